package automod

import (
	"github.com/chatmod/chatmod/automod/admission"
	"github.com/chatmod/chatmod/automod/countstore"
	"github.com/chatmod/chatmod/automod/dispatch"
	"github.com/chatmod/chatmod/automod/engine"
	"github.com/chatmod/chatmod/automod/event"
	"github.com/chatmod/chatmod/automod/scorer"
)

type Engine = engine.Engine
type Config = engine.Config
type ConfigError = engine.ConfigError

type Message = event.Message
type Signal = event.Signal
type Verdict = event.Verdict
type Action = event.Action

type ActionHandler = dispatch.ActionHandler
type DispatchFailure = dispatch.DispatchFailure
type Notifier = dispatch.Notifier
type SlackNotifier = dispatch.SlackNotifier

type Oracle = scorer.Oracle

var (
	ActionAllow  = event.ActionAllow
	ActionFlag   = event.ActionFlag
	ActionWarn   = event.ActionWarn
	ActionDelete = event.ActionDelete

	ErrMalformedMessage   = event.ErrMalformedMessage
	ErrScoringTimeout     = scorer.ErrScoringTimeout
	ErrScoringUnavailable = scorer.ErrScoringUnavailable
	ErrThrottled          = admission.ErrThrottled

	PeriodTotal = countstore.PeriodTotal
	PeriodDay   = countstore.PeriodDay
	PeriodHour  = countstore.PeriodHour
)
