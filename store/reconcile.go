package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ledgersync/snapshot"
)

// RebuildStockReconciliation recomputes the derived stock reconciliation
// collection: one row per product comparing its recorded stock with
// initialStock + purchased - sold + adjusted. The collection is replaced
// atomically. Returns the number of rows written.
func (db *DB) RebuildStockReconciliation(ctx context.Context) (int, error) {
	products, err := db.GetAll(ctx, snapshot.Products)
	if err != nil {
		return 0, err
	}
	purchased := make(map[string]float64)
	sold := make(map[string]float64)
	adjusted := make(map[string]float64)

	if err := db.sumBy(ctx, snapshot.Purchases, purchased); err != nil {
		return 0, err
	}
	if err := db.sumBy(ctx, snapshot.Sales, sold); err != nil {
		return 0, err
	}
	if err := db.sumBy(ctx, snapshot.InventoryAdjustments, adjusted); err != nil {
		return 0, err
	}
	multi, err := db.GetAll(ctx, snapshot.MultiItemPurchases)
	if err != nil {
		return 0, err
	}
	for _, p := range multi {
		items, _ := p["items"].([]any)
		for _, it := range items {
			if item, ok := it.(map[string]any); ok {
				addLine(purchased, item)
			}
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	table := tables[snapshot.StockReconciliation]
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
		return 0, err
	}
	now := nowString()
	generated := time.Now().UTC().Format(time.RFC3339)
	written := 0
	for _, p := range products {
		id, ok := snapshot.RecordID(p)
		if !ok {
			continue
		}
		expected := number(p["initialStock"]) + purchased[id] - sold[id] + adjusted[id]
		recorded := number(p["stock"])
		row := snapshot.Record{
			"id":            id,
			"productId":     id,
			"productName":   p["name"],
			"recordedStock": recorded,
			"expectedStock": expected,
			"purchased":     purchased[id],
			"sold":          sold[id],
			"adjusted":      adjusted[id],
			"variance":      recorded - expected,
			"generatedAt":   generated,
		}
		if err := upsertRecord(ctx, tx, table, id, row, now); err != nil {
			return 0, err
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

func (db *DB) sumBy(ctx context.Context, collection string, into map[string]float64) error {
	recs, err := db.GetAll(ctx, collection)
	if err != nil {
		return err
	}
	for _, r := range recs {
		addLine(into, r)
	}
	return nil
}

func addLine(into map[string]float64, line map[string]any) {
	pid := fmt.Sprint(line["productId"])
	if line["productId"] == nil || pid == "" {
		return
	}
	into[pid] += number(line["quantity"])
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}
