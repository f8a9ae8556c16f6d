package progress

import (
	"context"
	"fmt"
	"time"
)

type exampleCountingSink struct {
	lifecycle int
	urls      int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		if evt.Stage.Lifecycle() {
			s.lifecycle++
		} else {
			s.urls++
		}
	}
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting events and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: time.Second}, sink)

	ts := time.Unix(0, 0)
	hub.Emit(Event{JobID: "job-1", TS: ts, Stage: StageJobStart})
	hub.Emit(Event{JobID: "job-1", TS: ts, Stage: StageURLDone, Site: "punchng.com", Outcome: OutcomeCreated})
	hub.Emit(Event{JobID: "job-1", TS: ts, Stage: StageJobComplete, Found: 1, Processed: 1})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("lifecycle=%d urls=%d\n", sink.lifecycle, sink.urls)
	// Output:
	// lifecycle=2 urls=1
}
