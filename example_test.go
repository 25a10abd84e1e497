package disturb_test

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/petrijr/disturb"
)

// Example_localRunner runs a two-step workflow with an in-process manager
// and step workers.
func Example_localRunner() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	def, registry := disturb.New("greeting").
		Step("hello", disturb.TypedStep(func(ctx context.Context, in struct{ Name string }) (string, error) {
			return "Hello, " + in.Name, nil
		})).
		Step("shout", disturb.TypedStep(func(ctx context.Context, in struct{ Name string }) (string, error) {
			return strings.ToUpper(in.Name), nil
		})).
		MustBuild()

	runner, err := disturb.NewLocalRunner(def, registry)
	if err != nil {
		log.Fatal(err)
	}
	defer runner.Close()

	if err := runner.StartWorkers(ctx, 1); err != nil {
		log.Fatal(err)
	}
	if err := runner.StartWorkflow(ctx, "greet-1", disturb.Payload{"Name": "Gopher"}); err != nil {
		log.Fatal(err)
	}

	wc, err := runner.Wait(ctx, "greet-1")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(wc.Status)
	fmt.Println(wc.Step("hello").Job(0).Result)
	fmt.Println(wc.Step("shout").Job(0).Result)
	// Output:
	// FINISHED
	// Hello, Gopher
	// GOPHER
}
