package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"surge-scanner/internal/domain"
)

func TestPageHandler_RunsDecodedJob(t *testing.T) {
	var gotPage, gotKey int
	handler := NewPageHandler(func(keyIndex int) PageRunner {
		gotKey = keyIndex
		return pageRunnerFunc(func(ctx context.Context, page int) (int, error) {
			gotPage = page
			return 2, nil
		})
	}, quiet())

	payload, err := json.Marshal(domain.PageJob{Page: 7, KeyIndex: 2})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	err = handler(context.Background(), asynq.NewTask(TypeScanPage, payload))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if gotPage != 7 || gotKey != 2 {
		t.Errorf("ran page %d with key %d, want 7 and 2", gotPage, gotKey)
	}
}

func TestPageHandler_BadPayloadSkipsRetry(t *testing.T) {
	handler := NewPageHandler(func(keyIndex int) PageRunner {
		t.Fatal("runner built for an undecodable job")
		return nil
	}, quiet())

	err := handler(context.Background(), asynq.NewTask(TypeScanPage, []byte("not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("err = %v, want asynq.SkipRetry", err)
	}
}

func TestPageHandler_RunnerErrorPropagates(t *testing.T) {
	boom := errors.New("upstream down")
	handler := NewPageHandler(func(keyIndex int) PageRunner {
		return pageRunnerFunc(func(ctx context.Context, page int) (int, error) {
			return 0, boom
		})
	}, quiet())

	payload, _ := json.Marshal(domain.PageJob{Page: 1})
	err := handler(context.Background(), asynq.NewTask(TypeScanPage, payload))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want the runner's error", err)
	}
}
