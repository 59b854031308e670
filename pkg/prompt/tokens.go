// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prompt

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/teradata-labs/skein/pkg/provider"
)

// TokenCounter counts tokens with tiktoken. cl100k_base is a close enough
// approximation across the providers we speak to.
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

var (
	globalTokenCounter *TokenCounter
	counterInitOnce    sync.Once
)

// GetTokenCounter returns the singleton token counter.
func GetTokenCounter() *TokenCounter {
	counterInitOnce.Do(func() {
		tkm, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Fall back to char-based estimation when the encoding data is
			// unavailable.
			globalTokenCounter = &TokenCounter{encoder: nil}
			return
		}
		globalTokenCounter = &TokenCounter{encoder: tkm}
	})
	return globalTokenCounter
}

// CountTokens returns the token count for the text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.encoder == nil {
		return len(text) / 4
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.encoder.Encode(text, nil, nil))
}

// CountMessageTokens estimates the token count of assembled model messages,
// including a small per-message structure overhead.
func (tc *TokenCounter) CountMessageTokens(messages []provider.ModelMessage) int {
	total := 0
	for _, msg := range messages {
		total += 10
		for _, part := range msg.Content {
			switch part.Kind {
			case provider.ContentText, provider.ContentReasoning:
				total += tc.CountTokens(part.Text)
			case provider.ContentToolCall:
				total += 20 + tc.CountTokens(fmt.Sprintf("%v", part.Input))
			case provider.ContentToolResult:
				total += tc.CountTokens(fmt.Sprintf("%v", part.Result))
			case provider.ContentFile:
				// Images and documents bill by provider-specific rules; a
				// flat estimate keeps the accounting stable.
				total += 1000
			}
		}
	}
	return total
}
