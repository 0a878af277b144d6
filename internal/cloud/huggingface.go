// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jeranaias/chatrelay/internal/llm"
)

// HuggingFace Inference API settings.
const (
	DefaultHuggingFaceURL   = "https://api-inference.huggingface.co"
	DefaultHuggingFaceModel = "HuggingFaceH4/zephyr-7b-beta"

	// DefaultWordDelay separates the simulated stream's words.
	DefaultWordDelay = 50 * time.Millisecond
)

// HuggingFaceModels are the suggested models for the huggingface provider.
var HuggingFaceModels = []string{
	"HuggingFaceH4/zephyr-7b-beta",
	"mistralai/Mistral-7B-Instruct-v0.2",
	"google/gemma-7b-it",
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	MaxNewTokens      int     `json:"max_new_tokens"`
	Temperature       float64 `json:"temperature"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	ReturnFullText    bool    `json:"return_full_text"`
}

type hfGeneration struct {
	GeneratedText string `json:"generated_text"`
}

// =============================================================================
// HUGGINGFACE ADAPTER
// =============================================================================

// HuggingFaceAdapter makes one batch inference call and replays the reply
// word by word so callers see the same chunked shape as real streams.
type HuggingFaceAdapter struct {
	client
	wordDelay time.Duration
}

var _ llm.Adapter = (*HuggingFaceAdapter)(nil)

// NewHuggingFace returns the adapter for the Inference API. A wordDelay of
// zero selects DefaultWordDelay; a negative delay disables pacing.
func NewHuggingFace(cfg Config, wordDelay time.Duration) *HuggingFaceAdapter {
	if wordDelay == 0 {
		wordDelay = DefaultWordDelay
	}
	return &HuggingFaceAdapter{
		client:    newClient(llm.ProviderHuggingFace, cfg, DefaultHuggingFaceURL, DefaultHuggingFaceModel, hfErrorMessage),
		wordDelay: wordDelay,
	}
}

// Stream calls {base}/models/{model}, then emits the first word as-is and
// every later word as " "+word, pausing wordDelay between them.
func (a *HuggingFaceAdapter) Stream(ctx context.Context, req llm.Request, emit llm.EmitFunc) (string, error) {
	if err := a.requireKey(); err != nil {
		return "", err
	}

	body := hfRequest{
		Inputs: req.Message,
		Parameters: hfParameters{
			MaxNewTokens:      1024,
			Temperature:       1.0,
			RepetitionPenalty: 1.1,
			ReturnFullText:    false,
		},
	}
	resp, err := a.post(ctx, a.baseURL+"/models/"+llm.ModelOrDefault(a, req), body, map[string]string{
		"Authorization": "Bearer " + a.apiKey,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := readResponse(a.name, resp)
	if err != nil {
		return "", err
	}

	var generations []hfGeneration
	if err := json.Unmarshal(raw, &generations); err != nil {
		return "", &llm.ProtocolError{Provider: a.name, Reason: "expected [{generated_text}]", Cause: err}
	}
	if len(generations) == 0 {
		return "", &llm.ProtocolError{Provider: a.name, Reason: "empty generation list"}
	}

	return a.replay(ctx, generations[0].GeneratedText, emit)
}

// replay emits text one word at a time.
func (a *HuggingFaceAdapter) replay(ctx context.Context, text string, emit llm.EmitFunc) (string, error) {
	acc := llm.NewAccumulator(emit)
	for i, word := range strings.Fields(text) {
		if i > 0 {
			if err := a.pause(ctx); err != nil {
				return acc.Text(), err
			}
			word = " " + word
		}
		if err := ctx.Err(); err != nil {
			return acc.Text(), err
		}
		if err := acc.Add(word); err != nil {
			return acc.Text(), err
		}
	}
	return acc.Text(), nil
}

func (a *HuggingFaceAdapter) pause(ctx context.Context) error {
	if a.wordDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(a.wordDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// hfErrorMessage reads {"error": "..."} bodies. The Inference API sometimes
// sends a list of errors instead of a string.
func hfErrorMessage(body []byte) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return ""
	}
	var msg string
	if err := json.Unmarshal(envelope.Error, &msg); err == nil {
		return msg
	}
	var msgs []string
	if err := json.Unmarshal(envelope.Error, &msgs); err == nil {
		return strings.Join(msgs, "; ")
	}
	return ""
}
