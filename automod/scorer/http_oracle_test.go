package scorer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPOracle(t *testing.T) {
	assert := assert.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("Bearer secret", r.Header.Get("Authorization"))
		var req oracleReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch req.Inputs {
		case "nested":
			w.Write([]byte(`[[{"label":"toxic","score":0.81},{"label":"insult","score":0.4},{"label":"non-toxic","score":0.1}]]`))
		case "flat":
			w.Write([]byte(`[{"label":"non-toxic","score":0.9}]`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	o := &HTTPOracle{
		Client:       srv.Client(),
		Endpoint:     srv.URL,
		APIToken:     "secret",
		NeutralLabel: "non-toxic",
	}

	res, err := o.Score(context.Background(), "nested")
	assert.NoError(err)
	assert.Equal("toxic", res.Label)
	assert.Equal(0.81, res.Probability)

	res, err = o.Score(context.Background(), "flat")
	assert.NoError(err)
	assert.Equal("non-toxic", res.Label)
	assert.InDelta(0.1, res.Probability, 0.0001)

	_, err = o.Score(context.Background(), "other")
	assert.Error(err)
}

func TestParseClasses(t *testing.T) {
	assert := assert.New(t)

	_, err := parseClasses([]byte(`[]`))
	assert.Error(err)
	_, err = parseClasses([]byte(`{"error":"loading"}`))
	assert.Error(err)

	classes, err := parseClasses([]byte(`[{"label":"a","score":0.5}]`))
	assert.NoError(err)
	assert.Len(classes, 1)

	_, err = summarizeClasses(nil, "non-toxic")
	assert.Error(err)
}
