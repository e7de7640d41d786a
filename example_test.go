package sisu_test

import (
	"context"
	"fmt"
	"time"

	"github.com/petrijr/sisu"
)

type greeterWorkflow struct{}

func (greeterWorkflow) Execute(wctx sisu.WorkflowContext, input any) (any, error) {
	return wctx.Activity("greet", input, func(ctx context.Context, arg any) (any, error) {
		return "hello " + arg.(string), nil
	})
}

// Example shows the minimal lifecycle: register a workflow type, start the
// engine, start a workflow and read its output.
func Example() {
	ctx := context.Background()

	eng := sisu.NewInMemoryEngine()
	if err := eng.RegisterWorkflow("greeter", func() sisu.Workflow { return greeterWorkflow{} }); err != nil {
		panic(err)
	}
	if err := eng.Start(ctx); err != nil {
		panic(err)
	}
	defer eng.Stop()

	id, err := eng.StartWorkflow(ctx, "greeter", "", "world")
	if err != nil {
		panic(err)
	}

	for {
		out, done, err := eng.GetWorkflowOutput(ctx, id)
		if err != nil {
			panic(err)
		}
		if done {
			fmt.Println(out)
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Output: hello world
}
