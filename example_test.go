package crystaldata_test

import (
	"context"
	"fmt"
	"log"
	"os"

	crystaldata "github.com/archi-Doc/CrystalData-sub001"
)

// Example_basic saves a crystal, restarts and reads it back.
func Example_basic() {
	dir, err := os.MkdirTemp("", "crystaldata-example-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	type Hoge struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	config := crystaldata.Configuration{
		Path:                  "hoge.json",
		Format:                crystaldata.FormatUtf8,
		NumberOfFileHistories: 2,
	}
	ctx := context.Background()

	// 1. Save a value
	cz, err := crystaldata.New(dir)
	if err != nil {
		log.Fatal(err)
	}
	c, err := crystaldata.Register[Hoge](cz, "", config)
	if err != nil {
		log.Fatal(err)
	}
	if err := cz.PrepareAndLoadAll(ctx, true); err != nil {
		log.Fatal(err)
	}
	err = c.Update(ctx, func(h *Hoge) error {
		h.ID, h.Name = 1, "Fuga"
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := cz.Shutdown(ctx); err != nil {
		log.Fatal(err)
	}

	// 2. Restart and read it back
	cz, err = crystaldata.New(dir)
	if err != nil {
		log.Fatal(err)
	}
	c, err = crystaldata.Register[Hoge](cz, "", config)
	if err != nil {
		log.Fatal(err)
	}
	h, err := c.Data(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Id=%d Name=%s\n", h.ID, h.Name)
	_ = cz.Shutdown(ctx)
	// Output:
	// Id=1 Name=Fuga
}
