package profile

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

func TestAttributes_Scores(t *testing.T) {
	attrs := Attributes{Feeling: "stress", PHQ9: 10, BDI2: 20, GAD7: 8, DASS21: 15}

	scores := attrs.Scores()
	expected := [4]int{10, 20, 8, 15}
	if scores != expected {
		t.Errorf("expected %v, got %v", expected, scores)
	}
}

func TestStudent_StudentID(t *testing.T) {
	st := &Student{ID: 42}
	if st.StudentID() != "42" {
		t.Errorf("expected %q, got %q", "42", st.StudentID())
	}
}

// setupTestStore connects to a test PostgreSQL instance. Tests are skipped if
// TEST_DATABASE_URL is unset or the database is unavailable.
func setupTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("skipping: TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		t.Skipf("skipping: postgres open failed: %v", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		t.Skipf("skipping: postgres not available: %v", err)
	}
	if err := Migrate(url); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	t.Cleanup(func() {
		db.ExecContext(ctx, "DELETE FROM students WHERE email LIKE 'test-%'")
		db.Close()
	})

	return NewStore(db), ctx
}

func testEmail() string {
	return fmt.Sprintf("test-%d@example.edu", time.Now().UnixNano())
}

func TestStore_CreateAndLookup(t *testing.T) {
	store, ctx := setupTestStore(t)

	email := testEmail()
	attrs := Attributes{Feeling: "anxiety", PHQ9: 5, BDI2: 12, GAD7: 7, DASS21: 9}

	created, err := store.Create(ctx, "casey", email, "hash", attrs)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected non-zero id")
	}

	byEmail, err := store.GetByEmail(ctx, email)
	if err != nil {
		t.Fatalf("get by email failed: %v", err)
	}
	if byEmail.ID != created.ID {
		t.Errorf("expected id %d, got %d", created.ID, byEmail.ID)
	}

	got, err := store.GetAttributes(ctx, created.StudentID())
	if err != nil {
		t.Fatalf("get attributes failed: %v", err)
	}
	if *got != attrs {
		t.Errorf("expected attributes %+v, got %+v", attrs, *got)
	}
}

func TestStore_UpdateScores(t *testing.T) {
	store, ctx := setupTestStore(t)

	created, err := store.Create(ctx, "casey", testEmail(), "hash",
		Attributes{Feeling: "stress", PHQ9: 1, BDI2: 2, GAD7: 3, DASS21: 4})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated := Attributes{Feeling: "anxiety", PHQ9: 10, BDI2: 11, GAD7: 12, DASS21: 13}
	if err := store.UpdateScores(ctx, created.StudentID(), updated); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err := store.GetAttributes(ctx, created.StudentID())
	if err != nil {
		t.Fatalf("get attributes failed: %v", err)
	}
	if *got != updated {
		t.Errorf("expected attributes %+v, got %+v", updated, *got)
	}
}

func TestStore_NotFound(t *testing.T) {
	store, ctx := setupTestStore(t)

	if _, err := store.GetByID(ctx, "999999999"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetByID(ctx, "not-a-number"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for malformed id, got %v", err)
	}
}
