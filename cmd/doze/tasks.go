package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doze-run/doze/registry"
)

// registerDemoTasks wires the tasks exercised by the spec's scenarios
// (S1/S2/S3/S5) into reg. A real deployment registers its own tasks from
// its own package; these exist so `doze worker` and `doze defer` have
// something to run out of the box.
func registerDemoTasks(reg *registry.Registry) {
	reg.Register("sum_task", "default", func(ctx context.Context, args json.RawMessage) error {
		var p struct {
			A, B int
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return err
		}
		fmt.Println(p.A + p.B)
		return nil
	}, nil)

	reg.Register("increment_task", "default", func(ctx context.Context, args json.RawMessage) error {
		var p struct{ A int }
		if err := json.Unmarshal(args, &p); err != nil {
			return err
		}
		fmt.Println(p.A + 1)
		return nil
	}, nil)

	reg.Register("product_task", "product_queue", func(ctx context.Context, args json.RawMessage) error {
		var p struct {
			A, B int
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return err
		}
		fmt.Println(p.A * p.B)
		return nil
	}, nil)

	reg.Register("sleep_and_write", "default", func(ctx context.Context, args json.RawMessage) error {
		var p struct {
			Sleep       float64 `json:"sleep"`
			WriteBefore string  `json:"write_before"`
			WriteAfter  string  `json:"write_after"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return err
		}
		fmt.Println(p.WriteBefore)
		select {
		case <-time.After(time.Duration(p.Sleep * float64(time.Second))):
		case <-ctx.Done():
			return ctx.Err()
		}
		fmt.Println(p.WriteAfter)
		return nil
	}, nil)

	reg.Register("multiple_exception_failures", "default",
		func(ctx context.Context, args json.RawMessage) error {
			return fmt.Errorf("doze: demo task failure")
		},
		&registry.RetryPolicy{
			MaxAttempts: 2,
			Backoff:     func(attempt int) time.Duration { return 0 },
		},
	)
}
