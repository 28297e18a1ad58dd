package main

import (
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/luccadibe/jobctl/internal/config"
)

func main() {
	schema := jsonschema.Reflect(&config.Config{})
	json, err := schema.MarshalJSON()
	if err != nil {
		panic(err)
	}
	fmt.Println(string(json))
}
