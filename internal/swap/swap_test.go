package swap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/partshift/partshift/database"
	"github.com/partshift/partshift/database/oracle"
)

// scriptedExecutor fails statements whose SQL contains a configured marker
// and records everything it ran.
type scriptedExecutor struct {
	failOn map[string]error
	ran    []string
}

func (s *scriptedExecutor) Execute(_ context.Context, stmt database.Statement) (database.ExecResult, error) {
	s.ran = append(s.ran, stmt.SQL)
	for marker, err := range s.failOn {
		if strings.Contains(stmt.SQL, marker) {
			return database.ExecResult{}, err
		}
	}
	return database.ExecResult{}, nil
}

type swapCatalog struct {
	missing map[string]bool
	invalid []database.ObjectRef
}

func (c *swapCatalog) GetTableFacts(context.Context, string, string) (*database.TableFacts, error) {
	return nil, fmt.Errorf("not used")
}

func (c *swapCatalog) ObjectExists(_ context.Context, schema, name string) (bool, error) {
	return !c.missing[schema+"."+name], nil
}

func (c *swapCatalog) PartitionCount(context.Context, string, string) (int, error) {
	return 0, fmt.Errorf("not used")
}

func (c *swapCatalog) CountRows(context.Context, string, string) (int64, error) {
	return 0, fmt.Errorf("not used")
}

func (c *swapCatalog) ListInvalidObjects(context.Context, string) ([]database.ObjectRef, error) {
	return c.invalid, nil
}

func swapPlan() *database.MigrationPlan {
	return &database.MigrationPlan{
		Dialect:     "oracle",
		Source:      database.TableIdentity{Schema: "APP", Name: "ORDERS"},
		Replacement: database.TableIdentity{Schema: "APP", Name: "ORDERS_PART"},
		Backup:      database.TableIdentity{Schema: "APP", Name: "ORDERS_OLD"},
		BridgeView:  database.TableIdentity{Schema: "APP", Name: "ORDERS_XV"},
	}
}

func TestRun_Success(t *testing.T) {
	exec := &scriptedExecutor{}
	result, err := Run(context.Background(), exec, &swapCatalog{}, oracle.NewDialect(), swapPlan())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Outcome != database.SwapSuccess {
		t.Fatalf("Expected success, got %s", result.Outcome)
	}

	// Two locks, then two renames, in exactly that order.
	if len(exec.ran) != 4 {
		t.Fatalf("Expected 4 statements, got %d: %v", len(exec.ran), exec.ran)
	}
	if !strings.Contains(exec.ran[0], "LOCK TABLE") || !strings.Contains(exec.ran[1], "LOCK TABLE") {
		t.Errorf("Locks must run first, got %v", exec.ran[:2])
	}
	if !strings.Contains(exec.ran[2], `RENAME TO "ORDERS_OLD"`) {
		t.Errorf("Original must move to the backup name first, got %s", exec.ran[2])
	}
	if !strings.Contains(exec.ran[3], `RENAME TO "ORDERS"`) {
		t.Errorf("Replacement must take the original name second, got %s", exec.ran[3])
	}
}

func TestRun_BusyChangesNothing(t *testing.T) {
	exec := &scriptedExecutor{failOn: map[string]error{
		"LOCK TABLE": fmt.Errorf("row locked: %w", database.ErrObjectBusy),
	}}

	result, err := Run(context.Background(), exec, &swapCatalog{}, oracle.NewDialect(), swapPlan())
	if err != nil {
		t.Fatalf("Busy is a normal outcome, not an error: %v", err)
	}
	if result.Outcome != database.SwapBusy {
		t.Fatalf("Expected busy, got %s", result.Outcome)
	}
	for _, sql := range exec.ran {
		if strings.Contains(sql, "RENAME") {
			t.Errorf("No rename may run after a failed lock: %s", sql)
		}
	}
	if len(result.Report) == 0 || !strings.Contains(result.Report[0], "nothing was changed") {
		t.Errorf("Report must say nothing changed, got %v", result.Report)
	}
}

func TestRun_FirstRenameFailureChangesNothing(t *testing.T) {
	exec := &scriptedExecutor{failOn: map[string]error{
		`RENAME TO "ORDERS_OLD"`: fmt.Errorf("insufficient privileges"),
	}}

	_, err := Run(context.Background(), exec, &swapCatalog{}, oracle.NewDialect(), swapPlan())
	if err == nil {
		t.Fatal("Expected an error when the first rename fails")
	}
	if !strings.Contains(err.Error(), "nothing was changed") {
		t.Errorf("Error must state nothing changed, got: %v", err)
	}
}

func TestRun_SecondRenameFailureCompensates(t *testing.T) {
	exec := &scriptedExecutor{failOn: map[string]error{
		`"ORDERS_PART" RENAME TO`: fmt.Errorf("name in use"),
	}}

	result, err := Run(context.Background(), exec, &swapCatalog{}, oracle.NewDialect(), swapPlan())
	if err != nil {
		t.Fatalf("A compensated rollback is not an error: %v", err)
	}
	if result.Outcome != database.SwapCompensatedRollback {
		t.Fatalf("Expected compensated_rollback, got %s", result.Outcome)
	}

	last := exec.ran[len(exec.ran)-1]
	if !strings.Contains(last, `"ORDERS_OLD" RENAME TO "ORDERS"`) {
		t.Errorf("Compensation must rename the backup back to the original, got %s", last)
	}
	joined := strings.Join(result.Report, "\n")
	if !strings.Contains(joined, "can be retried") {
		t.Errorf("Report must say the swap is retryable, got %v", result.Report)
	}
}

func TestRun_FailedCompensationIsInconsistent(t *testing.T) {
	exec := &scriptedExecutor{failOn: map[string]error{
		`"ORDERS_PART" RENAME TO`: fmt.Errorf("name in use"),
		`"ORDERS_OLD" RENAME TO`:  fmt.Errorf("connection lost"),
	}}

	result, err := Run(context.Background(), exec, &swapCatalog{}, oracle.NewDialect(), swapPlan())
	if !errors.Is(err, ErrInconsistent) {
		t.Fatalf("Expected ErrInconsistent, got: %v", err)
	}
	if result.Outcome != database.SwapInconsistent {
		t.Fatalf("Expected inconsistent, got %s", result.Outcome)
	}

	joined := strings.Join(result.Report, "\n")
	for _, want := range []string{
		"resolves to NOTHING",
		"ORDERS_OLD",
		"ORDERS_PART",
		"manual rename required",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("Report missing %q:\n%s", want, joined)
		}
	}
}

func TestRun_VerifyReportsMissingNamesAndInvalidObjects(t *testing.T) {
	catalog := &swapCatalog{
		missing: map[string]bool{"APP.ORDERS_OLD": true},
		invalid: []database.ObjectRef{
			{Schema: "APP", Name: "ORDERS_V", Type: "VIEW"},
		},
	}

	result, err := Run(context.Background(), &scriptedExecutor{}, catalog, oracle.NewDialect(), swapPlan())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Outcome != database.SwapSuccess {
		t.Fatalf("Verification problems must not downgrade the outcome, got %s", result.Outcome)
	}

	joined := strings.Join(result.Report, "\n")
	if !strings.Contains(joined, "WARNING: backup name") {
		t.Errorf("Expected a warning for the missing backup name:\n%s", joined)
	}
	if !strings.Contains(joined, "ORDERS_V") {
		t.Errorf("Expected the invalid view named in the report:\n%s", joined)
	}
	if len(result.InvalidObjects) != 1 {
		t.Errorf("Expected invalid objects carried on the result, got %v", result.InvalidObjects)
	}
}
