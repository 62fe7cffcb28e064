package memory

import (
	"context"
	"fmt"
)

func ExampleNewEngine() {
	engine, _ := NewEngine(Options{
		Store:    NewInMemoryStore(768),
		Embedder: DummyEmbedder{},
		AgentID:  "demo",
	})
	defer engine.Close()
	ctx := context.Background()

	res, _ := engine.Store(ctx, "the customer reported a login issue on tuesday", 0.7, CategoryEvent, "", "")
	fmt.Println(res.Status)

	memories, _ := engine.Recall(ctx, "login issue", 1, false)
	fmt.Println(len(memories))
	// Output:
	// created
	// 1
}
