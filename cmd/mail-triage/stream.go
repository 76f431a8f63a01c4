package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/ensemble"
	"github.com/mikey/mail-triage/internal/service"
)

const maxLineBytes = 16 << 20

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxLineBytes)
	return sc
}

// classifyStream reads one message per line and writes one result per line
// in input order. Malformed lines are skipped.
func classifyStream(ctx context.Context, svc *service.Service, in io.Reader, out io.Writer, batchSize int, logger *zap.Logger) (int, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	sc := newScanner(in)
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)

	written := 0
	batch := make([]*core.Message, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		results, err := svc.ClassifyBatch(ctx, batch)
		for _, r := range results {
			if r == nil {
				continue
			}
			if encErr := enc.Encode(r); encErr != nil {
				return encErr
			}
			written++
		}
		batch = batch[:0]
		if ferr := w.Flush(); ferr != nil {
			return ferr
		}
		return err
	}

	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var msg core.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warn("Skipping malformed message", zap.Int("line", line), zap.Error(err))
			continue
		}
		batch = append(batch, &msg)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return written, fmt.Errorf("failed to read messages: %w", err)
	}
	return written, flush()
}

// Session request operations
const (
	opClassify = "classify"
	opReject   = "reject"
	opAccept   = "accept"
)

type sessionRequest struct {
	Op        string        `json:"op"`
	Message   *core.Message `json:"message,omitempty"`
	MessageID string        `json:"message_id,omitempty"`
	Category  string        `json:"category,omitempty"`
}

type sessionResponse struct {
	Op        string                     `json:"op"`
	MessageID string                     `json:"message_id,omitempty"`
	Result    *core.ClassificationResult `json:"result,omitempty"`
	Accepted  bool                       `json:"accepted,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

// runSession answers one request per line until the input ends or ctx is
// cancelled. Request errors are reported in the response line.
func runSession(ctx context.Context, svc *service.Service, in io.Reader, out io.Writer, logger *zap.Logger) error {
	sc := newScanner(in)
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		var req sessionRequest
		var resp sessionResponse
		if err := json.Unmarshal(raw, &req); err != nil {
			resp.Error = fmt.Sprintf("malformed request: %v", err)
		} else {
			resp = handleRequest(ctx, svc, req)
		}
		if resp.Error != "" {
			logger.Debug("Session request failed", zap.String("op", resp.Op), zap.String("error", resp.Error))
		}

		if err := enc.Encode(resp); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return sc.Err()
}

func handleRequest(ctx context.Context, svc *service.Service, req sessionRequest) sessionResponse {
	resp := sessionResponse{Op: req.Op, MessageID: req.MessageID}

	switch req.Op {
	case opClassify:
		if req.Message == nil {
			resp.Error = "missing message"
			return resp
		}
		resp.Result = svc.Classify(ctx, req.Message)
		resp.MessageID = resp.Result.MessageID

	case opReject:
		rejected, ok := ensemble.ParseCategory(req.Category)
		if !ok {
			resp.Error = fmt.Sprintf("unknown category %q", req.Category)
			return resp
		}
		result, err := svc.Reject(ctx, req.MessageID, rejected)
		if err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.Result = result

	case opAccept:
		if err := svc.AcceptSession(ctx, req.MessageID); err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.Accepted = true

	default:
		resp.Error = fmt.Sprintf("unknown op %q", req.Op)
	}
	return resp
}
