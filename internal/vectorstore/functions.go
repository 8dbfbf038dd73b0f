package vectorstore

import (
	"database/sql/driver"
	"fmt"
	"log"
	"sync"

	sqlite "modernc.org/sqlite"
)

var registerOnce sync.Once

// registerFunctions makes vec_cosine available on connections opened afterwards.
func registerFunctions() {
	registerOnce.Do(func() {
		if err := sqlite.RegisterDeterministicScalarFunction("vec_cosine", 2, vecCosine); err != nil {
			log.Printf("Warning: could not register vec_cosine: %v", err)
		}
	})
}

func vecCosine(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vec_cosine: expected 2 arguments, got %d", len(args))
	}
	a, err := blobArg(args[0])
	if err != nil {
		return nil, err
	}
	b, err := blobArg(args[1])
	if err != nil {
		return nil, err
	}
	if a == nil || b == nil {
		return nil, nil
	}
	return CosineSimilarity(a, b), nil
}

func blobArg(v driver.Value) ([]float32, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return DecodeEmbedding(x)
	default:
		return nil, fmt.Errorf("vec_cosine: unsupported argument type %T, want BLOB", v)
	}
}
