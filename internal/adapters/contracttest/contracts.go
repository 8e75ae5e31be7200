package contracttest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Overland-East-Bay/club-sync/internal/domain"
	idempotencyport "github.com/Overland-East-Bay/club-sync/internal/ports/out/idempotency"
	keychainport "github.com/Overland-East-Bay/club-sync/internal/ports/out/keychain"
	localstoreport "github.com/Overland-East-Bay/club-sync/internal/ports/out/localstore"
	prefsport "github.com/Overland-East-Bay/club-sync/internal/ports/out/prefs"
)

type CleanupFunc = func()

type LocalStoreFactory func(t *testing.T) (localstoreport.Store, CleanupFunc)
type PrefsStoreFactory func(t *testing.T) (prefsport.Store, CleanupFunc)
type KeychainFactory func(t *testing.T) (keychainport.Store, CleanupFunc)
type IdemStoreFactory func(t *testing.T) (idempotencyport.Store, CleanupFunc)

func RunIdempotencyStore(t *testing.T, newStore IdemStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	fp := idempotencyport.Fingerprint{
		Key:      idempotencyport.Key("k-" + uuid.NewString()),
		Method:   "POST",
		Route:    "/messages",
		BodyHash: "",
	}
	if _, ok, err := store.Get(ctx, fp); err != nil || ok {
		t.Fatalf("Get before Put: ok=%v err=%v", ok, err)
	}
	rec := idempotencyport.Record{
		StatusCode:  0,
		ContentType: "text/plain",
		Body:        []byte("hash-abc"),
		CreatedAt:   time.Unix(123, 0).UTC(),
	}
	if err := store.Put(ctx, fp, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := store.Get(ctx, fp)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if string(got.Body) != "hash-abc" || got.ContentType != "text/plain" || got.StatusCode != 0 {
		t.Fatalf("unexpected record: %+v", got)
	}

	// Overwrite semantics.
	rec2 := rec
	rec2.Body = []byte("hash-def")
	if err := store.Put(ctx, fp, rec2); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, ok, err = store.Get(ctx, fp)
	if err != nil || !ok || string(got.Body) != "hash-def" {
		t.Fatalf("expected overwritten record, got ok=%v err=%v body=%q", ok, err, string(got.Body))
	}
}

func RunPrefsStore(t *testing.T, newStore PrefsStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	if _, ok, err := store.Get(ctx, prefsport.KeyUserID); err != nil || ok {
		t.Fatalf("Get absent: ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, prefsport.KeyUserID, "u-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, prefsport.KeyUserID, "u-2"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	v, ok, err := store.Get(ctx, prefsport.KeyUserID)
	if err != nil || !ok || v != "u-2" {
		t.Fatalf("Get: v=%q ok=%v err=%v", v, ok, err)
	}

	// Empty values are distinct from absent keys.
	key := prefsport.LastSyncedKey(prefsport.SyncDomainEvent)
	if err := store.Set(ctx, key, ""); err != nil {
		t.Fatalf("Set empty: %v", err)
	}
	if v, ok, err := store.Get(ctx, key); err != nil || !ok || v != "" {
		t.Fatalf("Get empty: v=%q ok=%v err=%v", v, ok, err)
	}

	if err := store.Delete(ctx, prefsport.KeyUserID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, prefsport.KeyUserID); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
	if _, ok, err := store.Get(ctx, prefsport.KeyUserID); err != nil || ok {
		t.Fatalf("Get after Delete: ok=%v err=%v", ok, err)
	}
}

func RunKeychainStore(t *testing.T, newStore KeychainFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	if _, err := store.Load(ctx); !errors.Is(err, keychainport.ErrNoCredentials) {
		t.Fatalf("Load empty: err=%v, want ErrNoCredentials", err)
	}
	want := keychainport.Credentials{Username: "alice", Password: "s3cret", Domain: "club.example.com"}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Fatalf("Load=%+v, want %+v", got, want)
	}

	want.Password = "rotated"
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	if got, err := store.Load(ctx); err != nil || got != want {
		t.Fatalf("Load after overwrite=%+v err=%v", got, err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear empty: %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, keychainport.ErrNoCredentials) {
		t.Fatalf("Load after Clear: err=%v, want ErrNoCredentials", err)
	}
}

func RunLocalStore(t *testing.T, newStore LocalStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	t0 := time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)
	str := func(s string) *string { return &s }
	at := func(d time.Duration) *time.Time {
		v := t0.Add(d)
		return &v
	}

	alice := domain.User{
		ID:        "u-alice",
		FirstName: str("Alice"),
		LastName:  str("Johnson"),
		Address:   &domain.Address{City: str("Oakland")},
		Avatar:    []byte{0x89, 'P', 'N', 'G'},
		Divisions: []domain.DivisionID{"d-1", "d-2"},
	}
	bob := domain.User{ID: "u-bob"}
	member := domain.MembershipMember
	d1 := domain.Division{ID: "d-1", Name: str("Club"), MembershipStatus: member}
	d2 := domain.NewDivisionStub("d-2")
	offset := 90 * time.Minute
	lat, lng := 37.8, -122.2
	evLate := domain.Event{ID: "e-1", Name: str("Late"), Start: at(48 * time.Hour), End: at(50 * time.Hour)}
	evEarly := domain.Event{
		ID:               "e-2",
		Name:             str("Early"),
		Start:            at(0),
		End:              at(2 * time.Hour),
		Location:         &domain.Location{Name: "Trailhead", Latitude: &lat, Longitude: &lng},
		InvitedDivisions: []domain.DivisionID{"d-1"},
		ReminderOffset:   &offset,
	}
	evStub := domain.Event{ID: "e-0"}
	m1 := domain.Message{ID: "m-1", Content: str("first"), Timestamp: at(0), Sender: &alice.ID, Division: &d1.ID}
	m2 := domain.Message{ID: "m-2", Content: str("second"), Timestamp: at(time.Hour), Sender: &alice.ID, Division: &d1.ID}
	m3 := domain.Message{ID: "m-3", Content: str("other"), Timestamp: at(2 * time.Hour), Sender: &bob.ID, Division: &d2.ID}

	err := store.Update(ctx, func(tx localstoreport.Tx) error {
		for _, u := range []domain.User{alice, bob} {
			if err := tx.Users().Insert(ctx, u); err != nil {
				return err
			}
		}
		for _, d := range []domain.Division{d1, d2} {
			if err := tx.Divisions().Insert(ctx, d); err != nil {
				return err
			}
		}
		for _, e := range []domain.Event{evLate, evEarly, evStub} {
			if err := tx.Events().Insert(ctx, e); err != nil {
				return err
			}
		}
		for _, m := range []domain.Message{m1, m2, m3} {
			if err := tx.Messages().Insert(ctx, m); err != nil {
				return err
			}
		}
		if err := tx.Attendance().Upsert(ctx, domain.Attendance{EventID: "e-2", UserID: "u-bob", Response: domain.ResponseGoing}); err != nil {
			return err
		}
		return tx.Attendance().Upsert(ctx, domain.Attendance{EventID: "e-2", UserID: "u-alice", Response: domain.ResponseMaybe})
	})
	if err != nil {
		t.Fatalf("seed Update: %v", err)
	}

	// Round trip keeps every field, including nested pointers.
	err = store.View(ctx, func(tx localstoreport.Tx) error {
		u, err := tx.Users().Get(ctx, alice.ID)
		if err != nil {
			return err
		}
		if u.DisplayName() != "Alice Johnson" || u.Address == nil || u.Address.City == nil || *u.Address.City != "Oakland" {
			t.Fatalf("user round trip: %+v", u)
		}
		if string(u.Avatar) != string(alice.Avatar) || len(u.Divisions) != 2 {
			t.Fatalf("user avatar/divisions round trip: %+v", u)
		}
		e, err := tx.Events().Get(ctx, evEarly.ID)
		if err != nil {
			return err
		}
		if e.Location == nil || e.Location.Name != "Trailhead" || e.Location.Latitude == nil || *e.Location.Latitude != lat {
			t.Fatalf("event location round trip: %+v", e.Location)
		}
		if e.ReminderOffset == nil || *e.ReminderOffset != offset || !e.Start.Equal(*evEarly.Start) {
			t.Fatalf("event round trip: %+v", e)
		}
		d, err := tx.Divisions().Get(ctx, d2.ID)
		if err != nil {
			return err
		}
		if !d.SyncRequired() || d.MembershipStatus != domain.MembershipNoMember {
			t.Fatalf("division stub round trip: %+v", d)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}

	// Insert is create-only, Save is update-only.
	err = store.Update(ctx, func(tx localstoreport.Tx) error {
		if err := tx.Users().Insert(ctx, alice); !errors.Is(err, localstoreport.ErrAlreadyExists) {
			t.Fatalf("Insert duplicate: err=%v, want ErrAlreadyExists", err)
		}
		if err := tx.Messages().Save(ctx, domain.Message{ID: "m-missing"}); !errors.Is(err, localstoreport.ErrNotFound) {
			t.Fatalf("Save missing: err=%v, want ErrNotFound", err)
		}
		if _, err := tx.Events().Get(ctx, "e-missing"); !errors.Is(err, localstoreport.ErrNotFound) {
			t.Fatalf("Get missing: err=%v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	// A failed Update leaves nothing behind.
	boom := errors.New("boom")
	err = store.Update(ctx, func(tx localstoreport.Tx) error {
		if err := tx.Users().Insert(ctx, domain.User{ID: "u-ghost"}); err != nil {
			return err
		}
		d := d1
		d.Name = str("Renamed")
		if err := tx.Divisions().Save(ctx, d); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("rollback Update: err=%v, want boom", err)
	}
	err = store.View(ctx, func(tx localstoreport.Tx) error {
		if _, err := tx.Users().Get(ctx, "u-ghost"); !errors.Is(err, localstoreport.ErrNotFound) {
			t.Fatalf("rolled back insert visible: err=%v", err)
		}
		d, err := tx.Divisions().Get(ctx, d1.ID)
		if err != nil {
			return err
		}
		if *d.Name != "Club" {
			t.Fatalf("rolled back save visible: %q", *d.Name)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View after rollback: %v", err)
	}

	// Listing order and filters.
	err = store.View(ctx, func(tx localstoreport.Tx) error {
		us, err := tx.Users().List(ctx)
		if err != nil {
			return err
		}
		if len(us) != 2 || us[0].ID != "u-alice" || us[1].ID != "u-bob" {
			t.Fatalf("users order: %+v", us)
		}

		ds, err := tx.Divisions().List(ctx, localstoreport.DivisionFilter{Status: &member})
		if err != nil {
			return err
		}
		if len(ds) != 1 || ds[0].ID != "d-1" {
			t.Fatalf("divisions by status: %+v", ds)
		}

		all, err := tx.Events().List(ctx, localstoreport.EventFilter{})
		if err != nil {
			return err
		}
		if len(all) != 3 || all[0].ID != "e-2" || all[1].ID != "e-1" || all[2].ID != "e-0" {
			t.Fatalf("events order: %v", eventIDs(all))
		}
		from, to := *at(time.Hour), *at(24 * time.Hour)
		window, err := tx.Events().List(ctx, localstoreport.EventFilter{From: &from, To: &to})
		if err != nil {
			return err
		}
		if len(window) != 1 || window[0].ID != "e-2" {
			t.Fatalf("events window: %v", eventIDs(window))
		}

		ms, err := tx.Messages().ListByDivision(ctx, d1.ID, 0)
		if err != nil {
			return err
		}
		if len(ms) != 2 || ms[0].ID != "m-2" || ms[1].ID != "m-1" {
			t.Fatalf("messages newest first: %+v", ms)
		}
		latest, err := tx.Messages().ListByDivision(ctx, d1.ID, 1)
		if err != nil {
			return err
		}
		if len(latest) != 1 || latest[0].ID != "m-2" {
			t.Fatalf("messages limit: %+v", latest)
		}

		as, err := tx.Attendance().ListByEvent(ctx, "e-2")
		if err != nil {
			return err
		}
		if len(as) != 2 || as[0].UserID != "u-alice" || as[1].UserID != "u-bob" {
			t.Fatalf("attendance order: %+v", as)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View lists: %v", err)
	}

	// Attendance is last-write-wins per (event, user).
	err = store.Update(ctx, func(tx localstoreport.Tx) error {
		if err := tx.Attendance().Upsert(ctx, domain.Attendance{EventID: "e-2", UserID: "u-bob", Response: domain.ResponseDecline}); err != nil {
			return err
		}
		if err := tx.Attendance().Delete(ctx, "e-2", "u-alice"); err != nil {
			return err
		}
		return tx.Attendance().Delete(ctx, "e-2", "u-nobody")
	})
	if err != nil {
		t.Fatalf("attendance Update: %v", err)
	}
	err = store.View(ctx, func(tx localstoreport.Tx) error {
		a, err := tx.Attendance().Get(ctx, "e-2", "u-bob")
		if err != nil {
			return err
		}
		if a.Response != domain.ResponseDecline {
			t.Fatalf("attendance overwrite: %+v", a)
		}
		if _, err := tx.Attendance().Get(ctx, "e-2", "u-alice"); !errors.Is(err, localstoreport.ErrNotFound) {
			t.Fatalf("deleted attendance: err=%v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View attendance: %v", err)
	}

	// Flush removes everything.
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	err = store.View(ctx, func(tx localstoreport.Tx) error {
		us, err := tx.Users().List(ctx)
		if err != nil {
			return err
		}
		es, err := tx.Events().List(ctx, localstoreport.EventFilter{})
		if err != nil {
			return err
		}
		as, err := tx.Attendance().ListByEvent(ctx, "e-2")
		if err != nil {
			return err
		}
		if len(us) != 0 || len(es) != 0 || len(as) != 0 {
			t.Fatalf("after Flush: users=%d events=%d attendance=%d", len(us), len(es), len(as))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View after Flush: %v", err)
	}
}

func eventIDs(es []domain.Event) []domain.EventID {
	out := make([]domain.EventID, 0, len(es))
	for _, e := range es {
		out = append(out, e.ID)
	}
	return out
}
