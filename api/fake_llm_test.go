// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/mattermost/semantic-cache/llm"
)

// FakeLLM returns a canned response and counts invocations.
type FakeLLM struct {
	response string
	err      error
	calls    atomic.Int64
}

func NewFakeLLM(response string) *FakeLLM {
	return &FakeLLM{response: response}
}

func (f *FakeLLM) Calls() int64 {
	return f.calls.Load()
}

func (f *FakeLLM) ChatCompletion(request llm.CompletionRequest, opts ...llm.LanguageModelOption) (*llm.TextStreamResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return llm.NewStreamFromString(f.response), nil
}

func (f *FakeLLM) ChatCompletionNoStream(request llm.CompletionRequest, opts ...llm.LanguageModelOption) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *FakeLLM) CountTokens(text string) int {
	return len(text) / 4
}

func (f *FakeLLM) InputTokenLimit() int {
	return 100000
}

var errFakeLLMDown = errors.New("llm unavailable")
