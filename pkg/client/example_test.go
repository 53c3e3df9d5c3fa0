package client_test

import (
	"encoding/json"
	"fmt"

	"github.com/daniacca/snowdla/pkg/client"
)

func ExampleFlakeBuilder() {
	body := client.NewFlake("winter").
		DomainSize(30).
		StepSize(0.05).
		Seed(42).
		Build()

	data, _ := json.Marshal(body)
	fmt.Println(string(data))

	// Against a running server:
	// c := client.New("http://localhost:8080")
	// info, err := c.CreateFlake(ctx, client.NewFlake("winter").Seed(42))
	// res, err := c.Grow(ctx, "winter", 500)
	// svg, err := c.ExportSVG(ctx, "winter", client.ExportParams{N: 500})

	// Output:
	// {"parameters":{"domain_size":30,"step_size":0.05},"seed":42}
}
