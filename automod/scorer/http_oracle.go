package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatmod/chatmod/automod/event"
	"github.com/chatmod/chatmod/util"

	"github.com/carlmjohnson/versioninfo"
)

// Client for a text-classification model server (eg, a HuggingFace inference endpoint, or a local TorchServe/Triton wrapper).
//
// Sends `{"inputs": "<text>"}` and expects either a flat list or a list-of-lists of `{"label": ..., "score": ...}` objects.
type HTTPOracle struct {
	Client   *http.Client
	Endpoint string
	APIToken string
	// Label the model uses for the "not toxic" class. Any other label is treated as a toxicity class.
	NeutralLabel string
}

type oracleReq struct {
	Inputs string `json:"inputs"`
}

type oracleClass struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

func NewHTTPOracle(endpoint, token string) *HTTPOracle {
	return &HTTPOracle{
		Client:       util.ModelHTTPClient(),
		Endpoint:     endpoint,
		APIToken:     token,
		NeutralLabel: "non-toxic",
	}
}

func (o *HTTPOracle) Score(ctx context.Context, text string) (*Result, error) {
	body, err := json.Marshal(oracleReq{Inputs: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "chatmod/"+versioninfo.Short())
	if o.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+o.APIToken)
	}

	start := time.Now()
	defer func() {
		oracleHTTPDuration.Observe(time.Since(start).Seconds())
	}()

	res, err := o.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model request failed: %w", err)
	}
	defer res.Body.Close()

	oracleHTTPCount.WithLabelValues(fmt.Sprint(res.StatusCode)).Inc()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model request failed statusCode=%d", res.StatusCode)
	}

	respBytes, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read model resp body: %w", err)
	}
	classes, err := parseClasses(respBytes)
	if err != nil {
		return nil, err
	}
	return summarizeClasses(classes, o.NeutralLabel)
}

func parseClasses(raw []byte) ([]oracleClass, error) {
	var nested [][]oracleClass
	if err := json.Unmarshal(raw, &nested); err == nil {
		if len(nested) == 0 {
			return nil, fmt.Errorf("empty model response")
		}
		return nested[0], nil
	}
	var flat []oracleClass
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("failed to parse model resp JSON: %w", err)
	}
	return flat, nil
}

// Collapses per-class scores to a single toxicity probability: the highest score of any non-neutral class. If the model only reported the neutral class, its complement is used.
func summarizeClasses(classes []oracleClass, neutral string) (*Result, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("model response had no classes")
	}
	var out *Result
	var neutralScore *float64
	for _, cls := range classes {
		if strings.EqualFold(cls.Label, neutral) {
			s := cls.Score
			neutralScore = &s
			continue
		}
		if out == nil || cls.Score > out.Probability {
			out = &Result{Label: cls.Label, Probability: event.ClampScore(cls.Score)}
		}
	}
	if out != nil {
		return out, nil
	}
	return &Result{Label: neutral, Probability: event.ClampScore(1 - *neutralScore)}, nil
}
