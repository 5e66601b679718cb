// Command gqlcache-demo is an illustrative driver for the cache
// package, not part of its public contract: it writes a small todo-list
// document, reads it back, records and commits an optimistic mutation,
// and prints a snapshot. Grounded on cmd/bulk-delete's "flag-parsed,
// single-purpose CLI main with a zap development logger" shape in the
// reference repository.
package main

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/apollostack/gqlcache/cache"
	"github.com/apollostack/gqlcache/internal/gqlast"
)

func main() {
	log := buildLogger()
	c := cache.New(cache.Options{Logger: log, FlushMode: cache.FlushSync})

	identify := func(v map[string]any) (string, bool) {
		typename, ok := v["__typename"].(string)
		if !ok {
			return "", false
		}
		id, ok := v["id"].(string)
		if !ok {
			return "", false
		}
		return typename + id, true
	}

	query := todoListQuery()

	result := map[string]any{
		"todoList": map[string]any{
			"__typename": "TodoList",
			"id":         "5",
			"todos": []any{
				map[string]any{"__typename": "Todo", "id": "3", "text": "buy milk", "done": false},
			},
		},
	}

	if err := c.Write(query, result, "", nil, identify, nil); err != nil {
		log.Fatal("initial write failed", zap.Error(err))
	}

	unsubscribe := c.Watch(query, "", nil, nil, func(data map[string]any, missing []string) {
		fmt.Printf("watch fired: missing=%v data=%v\n", missing, data)
	})
	defer unsubscribe()

	data, missing, err := c.Read(query, "", nil, nil)
	if err != nil {
		log.Fatal("read failed", zap.Error(err))
	}
	fmt.Printf("read: missing=%v data=%v\n", missing, data)

	const mutationID = "toggle-todo-3"
	err = c.RecordOptimistic(mutationID, func(w *cache.OptimisticWriter) error {
		return w.Write(query, map[string]any{
			"todoList": map[string]any{
				"__typename": "TodoList",
				"id":         "5",
				"todos": []any{
					map[string]any{"__typename": "Todo", "id": "3", "text": "buy milk", "done": true},
				},
			},
		}, "ROOT_QUERY", nil, identify, nil)
	})
	if err != nil {
		log.Fatal("optimistic record failed", zap.Error(err))
	}

	optimisticData, _, err := c.Read(query, "", nil, nil)
	if err != nil {
		log.Fatal("optimistic read failed", zap.Error(err))
	}
	fmt.Printf("optimistic read: data=%v\n", optimisticData)

	// The mutation actually resolved with "done: true"; fold that into
	// the base store and drop the speculative layer now that it agrees
	// with the authoritative result.
	authoritative := map[string]any{
		"todoList": map[string]any{
			"__typename": "TodoList",
			"id":         "5",
			"todos": []any{
				map[string]any{"__typename": "Todo", "id": "3", "text": "buy milk", "done": true},
			},
		},
	}
	if err := c.Write(query, authoritative, "", nil, identify, nil); err != nil {
		log.Fatal("authoritative write failed", zap.Error(err))
	}
	if err := c.CommitOptimistic(mutationID); err != nil {
		log.Fatal("optimistic commit failed", zap.Error(err))
	}

	snap, err := c.Extract(false)
	if err != nil {
		log.Fatal("extract failed", zap.Error(err))
	}
	fmt.Printf("snapshot: %s\n", snap)

	log.Info("done", zap.Int("entities", c.Size()))
}

// todoListQuery builds the fixture AST for:
//
//	{ todoList { id todos { id text done } } }
func todoListQuery() *gqlast.SelectionSet {
	return &gqlast.SelectionSet{
		Selections: []gqlast.Selection{
			{
				Kind: gqlast.KindField,
				Field: &gqlast.Field{
					Name: "todoList",
					SubSelection: &gqlast.SelectionSet{
						Selections: []gqlast.Selection{
							field("__typename"),
							field("id"),
							{
								Kind: gqlast.KindField,
								Field: &gqlast.Field{
									Name: "todos",
									SubSelection: &gqlast.SelectionSet{
										Selections: []gqlast.Selection{
											field("__typename"),
											field("id"),
											field("text"),
											field("done"),
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}
}

func field(name string) gqlast.Selection {
	return gqlast.Selection{Kind: gqlast.KindField, Field: &gqlast.Field{Name: name}}
}

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level.SetLevel(zap.InfoLevel)
	return zap.Must(logConfig.Build())
}
