package reid_test

import (
	"context"
	"fmt"
	"log"

	"github.com/hupe1980/reid"
	"github.com/hupe1980/reid/config"
	"github.com/hupe1980/reid/train"
)

func Example() {
	ctx := context.Background()

	cfg, err := config.Load("reid.yaml")
	if err != nil {
		log.Fatal(err)
	}

	res, err := reid.Train(ctx, cfg, reid.WithStopPredicate(train.Patience(10)))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("best epoch %d (%.4f)\n", res.BestEpoch, res.BestScore)
}

func ExampleEmbedDir() {
	ctx := context.Background()
	cfg := config.Default()

	net, ckpt, err := reid.LoadModel(ctx, cfg, "reid-best")
	if err != nil {
		log.Fatal(err)
	}

	embeddings, err := reid.EmbedDir(ctx, net, "./herd", cfg.Dataset.ImageSize)
	if err != nil {
		log.Fatal(err)
	}
	for _, e := range embeddings {
		fmt.Println(e.Identity, e.Path, len(e.Vector), ckpt.Epoch)
	}
}
