package queue

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestEmail(t *testing.T, s *Store, uid uint32) *EmailRecord {
	t.Helper()
	r := &EmailRecord{
		UID:        uid,
		MessageID:  "<msg@example.com>",
		From:       "agent@example.com",
		To:         "deals@trident.example",
		Subject:    "Contract for 123 Oak St",
		TextBody:   "see attached",
		ReceivedAt: time.Now().Truncate(time.Second),
	}
	if err := s.InsertEmail(r); err != nil {
		t.Fatalf("InsertEmail: %v", err)
	}
	return r
}

func TestEmailRoundTrip(t *testing.T) {
	s := testStore(t)
	r := insertTestEmail(t, s, 42)

	if r.ID == 0 {
		t.Fatal("InsertEmail did not set ID")
	}

	got, err := s.GetEmail(r.ID)
	if err != nil {
		t.Fatalf("GetEmail: %v", err)
	}
	if got == nil {
		t.Fatal("GetEmail returned nil for existing record")
	}
	if got.UID != 42 || got.From != r.From || got.Subject != r.Subject {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Status != StatusPending {
		t.Errorf("fresh record status = %s, want pending", got.Status)
	}

	seen, err := s.Seen(42)
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Error("Seen(42) = false after insert")
	}
	if seen, _ := s.Seen(99); seen {
		t.Error("Seen(99) = true for unknown uid")
	}
}

func TestGetEmailMissing(t *testing.T) {
	s := testStore(t)
	got, err := s.GetEmail(12345)
	if err != nil {
		t.Fatalf("GetEmail: %v", err)
	}
	if got != nil {
		t.Errorf("GetEmail(missing) = %+v, want nil", got)
	}
}

func TestClaimForProcessing(t *testing.T) {
	s := testStore(t)
	r := insertTestEmail(t, s, 1)

	ok, err := s.ClaimForProcessing(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("claim of pending record refused")
	}

	// Second claim must lose: the record is already processing
	ok, err = s.ClaimForProcessing(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("double claim succeeded")
	}

	// Claiming from an explicit state list
	if err := s.Fail(r.ID, "classifier timeout"); err != nil {
		t.Fatal(err)
	}
	ok, err = s.ClaimForProcessing(r.ID, StatusFailed, StatusManualReview)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("claim of failed record for retry refused")
	}

	got, _ := s.GetEmail(r.ID)
	if got.Error != "" {
		t.Errorf("claim did not clear error, got %q", got.Error)
	}
}

func TestFailStoresReason(t *testing.T) {
	s := testStore(t)
	r := insertTestEmail(t, s, 1)

	if err := s.Fail(r.ID, "IMAP connection dropped"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetEmail(r.ID)
	if got.Status != StatusFailed {
		t.Errorf("status = %s", got.Status)
	}
	if got.Error != "IMAP connection dropped" {
		t.Errorf("error = %q", got.Error)
	}
	if !got.ProcessedAt.Valid {
		t.Error("ProcessedAt not set on terminal state")
	}
}

func TestMatchLifecycle(t *testing.T) {
	s := testStore(t)
	r := insertTestEmail(t, s, 1)

	if err := s.SetMatch(r.ID, "prop-1", 0.60, MethodAddressFuzzy, `{"similarity":0.61}`, true); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetEmail(r.ID)
	if got.PropertyID != "prop-1" || got.MatchMethod != MethodAddressFuzzy || !got.NeedsReview {
		t.Errorf("match not stored: %+v", got)
	}
	if !got.MatchConfidence.Valid || got.MatchConfidence.Float64 != 0.60 {
		t.Errorf("confidence = %+v", got.MatchConfidence)
	}

	if err := s.ClearMatch(r.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetEmail(r.ID)
	if got.PropertyID != "" || got.MatchConfidence.Valid || got.NeedsReview {
		t.Errorf("match not cleared: %+v", got)
	}
}

func TestCountersNeverDecrease(t *testing.T) {
	s := testStore(t)
	r := insertTestEmail(t, s, 1)

	if err := s.SetCounters(r.ID, 2, 3, 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.SetCounters(r.ID, 1, 0, 0, 0); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetEmail(r.ID)
	if got.DocumentsSaved != 2 || got.TasksCreated != 3 || got.EventsCreated != 1 || got.NotesAdded != 1 {
		t.Errorf("counters regressed: %+v", got)
	}
}

func TestListEmailsFilterAndOrder(t *testing.T) {
	s := testStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		r := &EmailRecord{UID: uint32(i + 1), From: "a@example.com", ReceivedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.InsertEmail(r); err != nil {
			t.Fatal(err)
		}
		if i == 1 {
			s.SetStatus(r.ID, StatusProcessed)
		}
	}

	all, err := s.ListEmails("", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d records", len(all))
	}
	if all[0].UID != 3 {
		t.Errorf("newest first violated, first uid = %d", all[0].UID)
	}

	processed, err := s.ListEmails(StatusProcessed, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(processed) != 1 || processed[0].UID != 2 {
		t.Errorf("filtered list = %+v", processed)
	}
}

func TestStats(t *testing.T) {
	s := testStore(t)

	old := &EmailRecord{UID: 1, From: "a@example.com", ReceivedAt: time.Now().Add(-48 * time.Hour)}
	recent := &EmailRecord{UID: 2, From: "a@example.com", ReceivedAt: time.Now()}
	for _, r := range []*EmailRecord{old, recent} {
		if err := s.InsertEmail(r); err != nil {
			t.Fatal(err)
		}
	}
	s.SetStatus(recent.ID, StatusProcessed)

	all, err := s.Stats(time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if all[StatusPending] != 1 || all[StatusProcessed] != 1 {
		t.Errorf("all-time stats = %v", all)
	}

	windowed, err := s.Stats(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if windowed[StatusPending] != 0 || windowed[StatusProcessed] != 1 {
		t.Errorf("windowed stats = %v", windowed)
	}
}

func TestDocumentRoundTripAndDuplicates(t *testing.T) {
	s := testStore(t)
	r := insertTestEmail(t, s, 1)

	content := []byte("%PDF-1.4 fake contract")
	d := &DocumentRecord{
		EmailID:   r.ID,
		Filename:  "contract.pdf",
		MimeType:  "application/pdf",
		SizeBytes: int64(len(content)),
		FileHash:  "hash-1",
		Content:   content,
		Text:      "PURCHASE AGREEMENT",
		DocType:   "contract",
	}
	if err := s.InsertDocument(d); err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}

	got, err := s.GetDocument(d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Content, content) {
		t.Error("content blob mismatch")
	}

	// Not a duplicate until it is filed to a property
	dup, err := s.FindDuplicate("hash-1", "prop-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if dup != nil {
		t.Error("unfiled document reported as duplicate")
	}

	if err := s.MarkDocumentFiled(d.ID, "prop-1", "filed-1"); err != nil {
		t.Fatal(err)
	}

	dup, err = s.FindDuplicate("hash-1", "prop-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if dup == nil || dup.ID != d.ID {
		t.Errorf("duplicate lookup = %+v", dup)
	}

	// Same hash against another property is not a duplicate per-property
	if dup, _ := s.FindDuplicate("hash-1", "prop-2", false); dup != nil {
		t.Error("per-property dedup matched across properties")
	}
	// But it is with global dedup on
	if dup, _ := s.FindDuplicate("hash-1", "", true); dup == nil {
		t.Error("global dedup missed the hash")
	}
}

func TestUpdateDocumentAnalysis(t *testing.T) {
	s := testStore(t)
	r := insertTestEmail(t, s, 1)

	d := &DocumentRecord{EmailID: r.ID, Filename: "scan.pdf", FileHash: "hash-a", Text: "some scan"}
	if err := s.InsertDocument(d); err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}

	if err := s.UpdateDocumentAnalysis(d.ID, "inspection", 0.82, `{"addresses":["9 Elm St"]}`); err != nil {
		t.Fatalf("UpdateDocumentAnalysis: %v", err)
	}

	got, err := s.GetDocument(d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DocType != "inspection" || got.Confidence != 0.82 {
		t.Errorf("analysis = %s/%.2f, want inspection/0.82", got.DocType, got.Confidence)
	}
	if got.Entities == "" {
		t.Error("entities payload not stored")
	}
}

func TestMarkDocumentDuplicate(t *testing.T) {
	s := testStore(t)
	r := insertTestEmail(t, s, 1)

	d := &DocumentRecord{EmailID: r.ID, Filename: "resend.pdf", FileHash: "hash-b", Content: []byte("payload")}
	if err := s.InsertDocument(d); err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}

	if err := s.MarkDocumentDuplicate(d.ID); err != nil {
		t.Fatalf("MarkDocumentDuplicate: %v", err)
	}

	got, err := s.GetDocument(d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Duplicate {
		t.Error("duplicate flag not set")
	}
	if len(got.Content) != 0 {
		t.Error("duplicate kept its content blob")
	}
	// A duplicate row never counts as someone else's original
	if dup, _ := s.FindDuplicate("hash-b", "", true); dup != nil {
		t.Errorf("duplicate row returned as original: %+v", dup)
	}
}

func TestArtifactDedupKeyUnique(t *testing.T) {
	s := testStore(t)
	r := insertTestEmail(t, s, 1)

	insert := func(key string) error {
		tx, err := s.DB().Begin()
		if err != nil {
			t.Fatal(err)
		}
		err = s.InsertArtifactTx(tx, &Artifact{
			ID: uuid.New().String(), EmailID: r.ID, Kind: ArtifactTask, RefID: "task-1", DedupKey: key,
		})
		if err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	}

	if err := insert("task:contract"); err != nil {
		t.Fatal(err)
	}
	if err := insert("task:contract"); err == nil {
		t.Error("duplicate dedup key accepted")
	}

	keys, err := s.ArtifactKeys(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !keys["task:contract"] || len(keys) != 1 {
		t.Errorf("keys = %v", keys)
	}
}

func TestDraftLifecycle(t *testing.T) {
	s := testStore(t)
	r := insertTestEmail(t, s, 1)

	d := &Draft{
		ID:       uuid.New().String(),
		EmailID:  r.ID,
		Category: "property_not_found",
		To:       "agent@example.com",
		Subject:  "Re: Contract",
		TextBody: "We could not locate the property.",
	}
	if err := s.InsertDraft(d); err != nil {
		t.Fatal(err)
	}

	pending, err := s.ListDrafts(DraftPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != d.ID {
		t.Errorf("pending drafts = %+v", pending)
	}

	if err := s.SetDraftStatus(d.ID, DraftApproved); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetDraft(d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != DraftApproved {
		t.Errorf("status = %s", got.Status)
	}

	if still, _ := s.ListDrafts(DraftPending); len(still) != 0 {
		t.Errorf("approved draft still listed as pending")
	}
}
