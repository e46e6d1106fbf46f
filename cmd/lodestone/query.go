package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/lodestone-cms/lodestone/cursor"
	"github.com/lodestone-cms/lodestone/doctype"
	"github.com/lodestone-cms/lodestone/fieldtype"
	"github.com/lodestone-cms/lodestone/internal/cli/config"
	"github.com/lodestone-cms/lodestone/internal/cli/ui"
	"github.com/lodestone-cms/lodestone/schema"
	"github.com/lodestone-cms/lodestone/store"
	"github.com/lodestone-cms/lodestone/store/pgstore"
	"github.com/lodestone-cms/lodestone/store/rediscache"
)

var (
	queryDefinitions string
	queryData        string
	queryCriteria    string
	querySearch      string
	queryPage        int
	queryPerPage     int
	queryTrash       string
	queryPublished   string
	queryJSON        bool
)

func init() {
	queryCmd.Flags().StringVar(&queryDefinitions, "definitions", "types.yaml", "Document type definitions file")
	queryCmd.Flags().StringVar(&queryData, "data", "", "Seed data file for the memory store (yaml: collection -> documents)")
	queryCmd.Flags().StringVar(&queryCriteria, "criteria", "", "Criteria as JSON")
	queryCmd.Flags().StringVar(&querySearch, "search", "", "Text search")
	queryCmd.Flags().IntVar(&queryPage, "page", 0, "1-based page number")
	queryCmd.Flags().IntVar(&queryPerPage, "per-page", 0, "Page size (defaults from config)")
	queryCmd.Flags().StringVar(&queryTrash, "trash", "", "Trash filter: true, false or any")
	queryCmd.Flags().StringVar(&queryPublished, "published", "", "Published filter: true, false or any")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "Output results as JSON")
}

var queryCmd = &cobra.Command{
	Use:   "query <type>",
	Short: "Query documents of a type",
	Long:  "Run a filtered query against the configured store and print matching documents with joins and URLs resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer logger.Sync()

		st, cleanup, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		composer := schema.NewComposer(logger)
		composer.DefaultGroup = schema.Group{
			Name:  cfg.Schema.DefaultGroup.Name,
			Label: cfg.Schema.DefaultGroup.Label,
		}
		registry := doctype.NewRegistry(st, fieldtype.DefaultRegistry(), logger)
		managers, err := registry.LoadFile(queryDefinitions, composer)
		if err != nil {
			return err
		}

		manager := registry.Get(args[0])
		if manager == nil {
			names := make([]string, 0, len(managers))
			for _, m := range managers {
				names = append(names, m.Name)
			}
			if similar := ui.Suggest(args[0], names, 3); len(similar) > 0 {
				return fmt.Errorf("unknown document type %q (did you mean %s?)",
					args[0], strings.Join(similar, ", "))
			}
			return fmt.Errorf("unknown document type %q (see %s)", args[0], queryDefinitions)
		}

		c := manager.Find(nil)
		if queryCriteria != "" {
			var criteria store.Criteria
			if err := json.Unmarshal([]byte(queryCriteria), &criteria); err != nil {
				return fmt.Errorf("invalid --criteria: %w", err)
			}
			c.Criteria(criteria)
		}
		unsafe := map[string]any{}
		if querySearch != "" {
			unsafe["search"] = querySearch
		}
		if queryPage > 0 {
			unsafe["page"] = queryPage
		}
		perPage := queryPerPage
		if perPage <= 0 {
			perPage = cfg.Query.PerPage
		}
		unsafe["perPage"] = perPage
		if queryTrash != "" {
			unsafe["trash"] = queryTrash
		}
		if queryPublished != "" {
			unsafe["published"] = queryPublished
		}
		// Manage level: this is an operator tool, not a public endpoint.
		c.ApplyUnsafe(cursor.SafeManage, unsafe)

		docs, err := c.ToArray(ctx)
		if err != nil {
			return err
		}
		total, err := c.Count(ctx)
		if err != nil {
			return err
		}

		if queryJSON {
			return json.NewEncoder(os.Stdout).Encode(docs)
		}

		table := ui.NewTable(os.Stdout, "ID", "TITLE", "URL")
		for _, doc := range docs {
			title, _ := doc["title"].(string)
			url, _ := doc["_url"].(string)
			table.AddRow(fmt.Sprintf("%v", doc["_id"]), title, url)
		}
		table.Render()

		dimColor := color.New(color.FgHiBlack)
		dimColor.Printf("%d of %d document(s)", len(docs), total)
		if pages := c.TotalPages(); pages > 0 {
			dimColor.Printf(", %d page(s)", pages)
		}
		fmt.Println()
		return nil
	},
}

// openStore builds the configured store stack: memory or postgres, with
// the redis cache layered on when configured.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, func(), error) {
	var (
		st      store.Store
		cleanup = func() {}
	)

	switch cfg.Store.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Store.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		pg := pgstore.New(db, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		st = pg
		cleanup = func() { db.Close() }
	default:
		mem := store.NewMemoryStore()
		if queryData != "" {
			if err := seedMemoryStore(mem, queryData); err != nil {
				return nil, nil, err
			}
		}
		st = mem
	}

	if addr := cfg.Cache.Redis.Addr; addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		prev := cleanup
		cleanup = func() {
			client.Close()
			prev()
		}
		st = rediscache.New(st, client, time.Duration(cfg.Cache.Redis.TTLSeconds)*time.Second, logger)
	}
	return st, cleanup, nil
}

// seedMemoryStore loads a yaml mapping of collection name to document
// list into the memory store.
func seedMemoryStore(mem *store.MemoryStore, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed data: %w", err)
	}
	var collections map[string][]store.Doc
	if err := yaml.Unmarshal(raw, &collections); err != nil {
		return fmt.Errorf("failed to parse seed data: %w", err)
	}
	for collection, docs := range collections {
		mem.Insert(collection, docs...)
	}
	return nil
}
