package ingest

import (
	"context"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/opendatasus/natality-warehouse/warehouse"
)

// Requires a disposable Postgres database, e.g.:
//
//	TEST_DATABASE_URL=postgres://localhost:5432/natality_test go test ./ingest/
func testClient(t *testing.T) *warehouse.Client {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	client, err := warehouse.Connect(context.Background(), dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestPlanYearsIncremental(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	for _, table := range []string{"raw_2098", "raw_2099"} {
		if _, err := client.Pool.Exec(ctx, "CREATE TABLE IF NOT EXISTS "+table+" (contador text)"); err != nil {
			t.Fatalf("create %s: %v", table, err)
		}
	}
	t.Cleanup(func() {
		for _, table := range []string{"raw_2098", "raw_2099"} {
			_ = client.DropTable(context.Background(), table)
		}
	})

	plan, err := PlanYears(ctx, client, []int{2097, 2098, 2099}, false, zap.NewNop())
	if err != nil {
		t.Fatalf("PlanYears: %v", err)
	}
	if len(plan.Years) != 1 || plan.Years[0] != 2097 {
		t.Errorf("Years = %v, want [2097]", plan.Years)
	}
	if len(plan.Skipped) != 2 {
		t.Errorf("Skipped = %v, want [2098 2099]", plan.Skipped)
	}

	plan, err = PlanYears(ctx, client, []int{2097, 2098, 2099}, true, zap.NewNop())
	if err != nil {
		t.Fatalf("PlanYears overwrite: %v", err)
	}
	if len(plan.Years) != 3 || len(plan.Skipped) != 0 {
		t.Errorf("overwrite plan = %+v, want all three years", plan)
	}
}
