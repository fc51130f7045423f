package qwen

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"iter"
	"net/http"
	"strings"
)

// Stream sends the message history upstream with incremental SSE enabled
// and yields response chunks as they arrive.
//
// The sequence never half-closes silently: if anything fails, before or
// after the first chunk, a single terminal chunk prefixed "错误:" is
// yielded and the sequence ends. A "[DONE]" sentinel from upstream
// terminates the sequence cleanly. Non-JSON and comment lines are
// skipped.
func (c *Client) Stream(ctx context.Context, messages []Message, params *Params) iter.Seq[string] {
	return func(yield func(string) bool) {
		ctx, cancel := context.WithTimeout(ctx, c.config.timeout)
		defer cancel()

		resp, err := c.do(ctx, messages, params, true)
		if err != nil {
			yield("错误: " + err.Error())
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
			yield("错误: " + apiError(resp.StatusCode, body).Error())
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				// id:/event: framing lines.
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return
			}

			var chunk generationResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Code != "" {
				yield("错误: " + chunk.Code + " - " + chunk.Message)
				return
			}
			if chunk.Output.Text != "" {
				if !yield(chunk.Output.Text) {
					return
				}
			}
			if fr := chunk.Output.FinishReason; fr != "" && fr != "null" {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("错误: " + classify(err).Error())
		}
	}
}
