package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	memclock "github.com/Overland-East-Bay/club-sync/internal/adapters/memory/clock"
	memstore "github.com/Overland-East-Bay/club-sync/internal/adapters/memory/localstore"
	"github.com/Overland-East-Bay/club-sync/internal/app/notify"
	"github.com/Overland-East-Bay/club-sync/internal/domain"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clubapi"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/localstore"
)

func userRequest(id string) clubapi.Request {
	return clubapi.Get(clubapi.PathUser, url.Values{"userID": {id}})
}

const userU1 = `{"firstName":"Ada","lastName":"Lovelace","email":"a@x.com","divisions":["d1"]}`

func TestResolve_IsDeterministic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var first, second Resolution
	err := f.s.Update(ctx, func(ctx context.Context, u *Unit) error {
		var err error
		first, err = f.s.Resolve(ctx, u, KindUser, json.RawMessage(`"u1"`), WithoutSync())
		if err != nil {
			return err
		}
		second, err = f.s.Resolve(ctx, u, KindUser, json.RawMessage(`{"id":"u1","email":"a@x.com"}`), WithoutSync())
		return err
	})
	gt.NoError(t, err).Required()

	gt.Value(t, first.IDs).Equal([]string{"u1"})
	gt.Value(t, first.Created).Equal([]string{"u1"})
	gt.Value(t, second.IDs).Equal([]string{"u1"})
	gt.Array(t, second.Created).Length(0)

	// Resolving never overwrites fields.
	gt.Value(t, f.user(t, "u1").Email).Nil()

	var users []domain.User
	gt.NoError(t, f.store.View(ctx, func(tx localstore.Tx) error {
		var err error
		users, err = tx.Users().List(ctx)
		return err
	})).Required()
	gt.Array(t, users).Length(1)
}

func TestResolve_BatchFailureLeavesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.s.Update(ctx, func(ctx context.Context, u *Unit) error {
		_, err := f.s.Resolve(ctx, u, KindDivision, json.RawMessage(`["d1",{"name":"no id"},"d3"]`))
		return err
	})
	gt.Error(t, err).Is(ErrParse)

	err = f.store.View(ctx, func(tx localstore.Tx) error {
		ds, err := tx.Divisions().List(ctx, localstore.DivisionFilter{})
		gt.Array(t, ds).Length(0)
		return err
	})
	gt.NoError(t, err)
	f.s.Wait()
	gt.Array(t, f.sender.requests).Length(0)
}

func TestResolve_SchedulesSyncAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.on(userRequest("u1"), userU1)

	err := f.s.Update(ctx, func(ctx context.Context, u *Unit) error {
		_, err := f.s.Resolve(ctx, u, KindUser, json.RawMessage(`["u1"]`))
		return err
	})
	gt.NoError(t, err).Required()
	f.s.Wait()

	gt.Value(t, f.sender.count(userRequest("u1"))).Equal(1)
	u := f.user(t, "u1")
	gt.Value(t, u.DisplayName()).Equal("Ada Lovelace")
	gt.Bool(t, u.SyncRequired()).False()
}

// Division d1 with a nested admin user: d1 is populated, u1 starts as a stub
// and is synced afterwards, and exactly one division notification names d1.
func TestPopulateDivision_NestedAdminUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.on(userRequest("u1"), userU1)

	err := f.s.PopulateDivision(ctx, "d1", json.RawMessage(`{"id":"d1","name":"Board","adminUser":{"id":"u1","email":"a@x.com"}}`))
	gt.NoError(t, err).Required()
	f.s.Wait()

	d := f.division(t, "d1")
	gt.Value(t, *d.Name).Equal("Board")
	gt.Value(t, *d.Admin).Equal(domain.UserID("u1"))
	gt.Value(t, d.MembershipStatus).Equal(domain.MembershipNoMember)
	gt.Value(t, *d.LastSynced).Equal(t0)

	u := f.user(t, "u1")
	gt.Value(t, *u.Email).Equal("a@x.com")
	gt.Value(t, u.Divisions).Equal([]domain.DivisionID{"d1"})

	notes := f.bus.byTopic(notify.TopicDivisionSync)
	gt.Array(t, notes).Length(1)
	gt.Value(t, notes[0].Subjects).Equal([]string{"d1"})
	gt.Array(t, f.bus.byTopic(notify.TopicUserSync)).Length(1)
}

func TestPopulate_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := json.RawMessage(`{"name":"Board","desc":"The board"}`)

	gt.NoError(t, f.s.PopulateDivision(ctx, "d1", payload)).Required()
	first := f.division(t, "d1")

	f.clock.Advance(time.Hour)
	gt.NoError(t, f.s.PopulateDivision(ctx, "d1", payload)).Required()
	second := f.division(t, "d1")

	gt.Array(t, f.bus.byTopic(notify.TopicDivisionSync)).Length(1)
	gt.Value(t, *second.LastSynced).Equal(*first.LastSynced)

	// A different payload is a change again, and clears removed optional fields.
	gt.NoError(t, f.s.PopulateDivision(ctx, "d1", json.RawMessage(`{"name":"Board"}`))).Required()
	third := f.division(t, "d1")
	gt.Value(t, third.Description).Nil()
	gt.Value(t, *third.LastSynced).Equal(t0.Add(time.Hour))
	gt.Array(t, f.bus.byTopic(notify.TopicDivisionSync)).Length(2)
}

func TestPopulateDivision_NestedFailureFailsParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.s.Update(ctx, func(ctx context.Context, u *Unit) error {
		_, err := f.s.Resolve(ctx, u, KindDivision, json.RawMessage(`"d1"`), WithoutSync())
		return err
	})
	gt.NoError(t, err).Required()

	err = f.s.PopulateDivision(ctx, "d1", json.RawMessage(`{"name":"Board","adminUser":{"email":"a@x.com"}}`))
	gt.Error(t, err).Is(ErrParse)

	d := f.division(t, "d1")
	gt.Bool(t, d.SyncRequired()).True()
	gt.Value(t, f.bus.total()).Equal(0)
}

func TestPopulateUser_RequiredFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, payload := range []string{
		`{"lastName":"L","email":"a@x.com"}`,
		`{"firstName":"F","email":"a@x.com"}`,
		`{"firstName":"F","lastName":"L"}`,
		`{"firstName":"F","lastName":"L","email":"not-an-email"}`,
		`{"firstName":"F","lastName":"L","email":"a@x.com","gender":"OTHER"}`,
	} {
		err := f.s.PopulateUser(ctx, "u1", json.RawMessage(payload))
		gt.Error(t, err).Is(ErrParse)
	}
	gt.Value(t, f.bus.total()).Equal(0)

	err := f.s.PopulateUser(ctx, "u1", json.RawMessage(`{
		"firstName":"Ada","lastName":"Lovelace","email":"a@x.com",
		"birthday":{"dayOfMonth":10,"monthValue":12,"year":1815},
		"gender":"female","city":"London",
		"divisions":["d2","d1","d2"],"administeredDivisions":[{"id":"d1"}]
	}`))
	gt.NoError(t, err).Required()
	f.s.Wait()

	u := f.user(t, "u1")
	gt.Value(t, *u.Gender).Equal(domain.GenderFemale)
	gt.Value(t, *u.Birthday).Equal(time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC))
	gt.Value(t, *u.Address.City).Equal("London")
	gt.Value(t, u.Address.Street).Nil()
	gt.Value(t, u.Divisions).Equal([]domain.DivisionID{"d1", "d2"})
	gt.Value(t, u.AdministeredDivisions).Equal([]domain.DivisionID{"d1"})
}

// A message without content is rejected and the stub stays as it was.
func TestPopulateMessage_MissingContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.s.Update(ctx, func(ctx context.Context, u *Unit) error {
		_, err := f.s.Resolve(ctx, u, KindMessage, json.RawMessage(`"m1"`), WithoutSync())
		return err
	})
	gt.NoError(t, err).Required()

	err = f.s.PopulateMessage(ctx, "m1", json.RawMessage(`{"timestamp":"2024-05-01T10:00:00","sender":"u1","division":"d1"}`))
	gt.Error(t, err).Is(ErrParse)

	m := f.message(t, "m1")
	gt.Value(t, m.Content).Nil()
	gt.Bool(t, m.SyncRequired()).True()
	gt.Value(t, f.bus.total()).Equal(0)
}

// Whatever order two messages arrive in, the division points at the newer.
func TestPopulateMessage_LatestMessage(t *testing.T) {
	older := json.RawMessage(`{"content":"first","timestamp":"2024-05-01T10:00:00","sender":"u1","division":"d1"}`)
	newer := json.RawMessage(`{"content":"second","timestamp":"2024-05-01T11:00:00","sender":"u2","division":"d1"}`)

	for _, order := range [][]string{{"m1", "m2"}, {"m2", "m1"}} {
		f := newFixture(t)
		ctx := context.Background()
		for _, id := range order {
			payload := older
			if id == "m2" {
				payload = newer
			}
			gt.NoError(t, f.s.PopulateMessage(ctx, domain.MessageID(id), payload)).Required()
		}
		d := f.division(t, "d1")
		gt.Value(t, *d.LatestMessage).Equal(domain.MessageID("m2"))
		gt.Value(t, *d.LatestMessageAt).Equal(time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC))
	}
}

// Moving a message to another division repoints the old division at its
// newest remaining message, or clears it when none is left.
func TestPopulateMessage_MovedToOtherDivision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gt.NoError(t, f.s.PopulateMessage(ctx, "m0", json.RawMessage(
		`{"content":"earlier","timestamp":"2024-05-01T09:00:00","sender":"u1","division":"d1"}`))).Required()
	gt.NoError(t, f.s.PopulateMessage(ctx, "m1", json.RawMessage(
		`{"content":"hi","timestamp":"2024-05-01T10:00:00","sender":"u1","division":"d1"}`))).Required()
	gt.Value(t, *f.division(t, "d1").LatestMessage).Equal(domain.MessageID("m1"))

	gt.NoError(t, f.s.PopulateMessage(ctx, "m1", json.RawMessage(
		`{"content":"hi","timestamp":"2024-05-01T10:00:00","sender":"u1","division":"d2"}`))).Required()
	d1 := f.division(t, "d1")
	gt.Value(t, *d1.LatestMessage).Equal(domain.MessageID("m0"))
	gt.Value(t, *d1.LatestMessageAt).Equal(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	gt.Value(t, *f.division(t, "d2").LatestMessage).Equal(domain.MessageID("m1"))

	gt.NoError(t, f.s.PopulateMessage(ctx, "m0", json.RawMessage(
		`{"content":"earlier","timestamp":"2024-05-01T09:00:00","sender":"u1","division":"d2"}`))).Required()
	d1 = f.division(t, "d1")
	gt.Value(t, d1.LatestMessage).Nil()
	gt.Value(t, d1.LatestMessageAt).Nil()
	gt.Value(t, *f.division(t, "d2").LatestMessage).Equal(domain.MessageID("m1"))
}

func TestPopulateMessage_KeepsReadFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := json.RawMessage(`{"content":"hi","timestamp":"2024-05-01T10:00:00","sender":"u1","division":"d1"}`)

	gt.NoError(t, f.s.PopulateMessage(ctx, "m1", payload)).Required()
	gt.NoError(t, f.s.Update(ctx, func(ctx context.Context, u *Unit) error {
		m, err := u.Tx().Messages().Get(ctx, "m1")
		if err != nil {
			return err
		}
		m.Read = true
		return u.Tx().Messages().Save(ctx, m)
	})).Required()

	gt.NoError(t, f.s.PopulateMessage(ctx, "m1", payload)).Required()
	gt.Bool(t, f.message(t, "m1").Read).True()
	gt.Array(t, f.bus.byTopic(notify.TopicMessageSync)).Length(1)
}

func TestPopulateEvent_Attendance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload := json.RawMessage(`{
		"name":"Trail run","description":"Bring water",
		"startDateTime":{"dayOfMonth":1,"monthValue":6,"year":2024,"hour":9},
		"endDateTime":{"dayOfMonth":1,"monthValue":6,"year":2024,"hour":11},
		"location":"Trailhead","locationLat":37.8,
		"invitedDivision":["d1"],
		"goingUser":["u1",{"id":"u2"}],"maybeUser":["u3"],"pendingUser":[],"declinedUser":null
	}`)
	gt.NoError(t, f.s.PopulateEvent(ctx, "e1", payload)).Required()

	var (
		ev domain.Event
		as []domain.Attendance
	)
	gt.NoError(t, f.store.View(ctx, func(tx localstore.Tx) error {
		var err error
		if ev, err = tx.Events().Get(ctx, "e1"); err != nil {
			return err
		}
		as, err = tx.Attendance().ListByEvent(ctx, "e1")
		return err
	})).Required()

	gt.Value(t, *ev.Name).Equal("Trail run")
	gt.Value(t, ev.Location.Name).Equal("Trailhead")
	gt.Value(t, ev.Location.Longitude).Nil()
	gt.Value(t, ev.InvitedDivisions).Equal([]domain.DivisionID{"d1"})
	idx := domain.IndexResponders(as)
	gt.Value(t, idx[domain.ResponseGoing]).Equal([]domain.UserID{"u1", "u2"})
	gt.Value(t, idx[domain.ResponseMaybe]).Equal([]domain.UserID{"u3"})

	// u2 moves from going to declined; u3 is no longer listed.
	payload = json.RawMessage(`{
		"name":"Trail run","description":"Bring water",
		"startDateTime":{"dayOfMonth":1,"monthValue":6,"year":2024,"hour":9},
		"endDateTime":{"dayOfMonth":1,"monthValue":6,"year":2024,"hour":11},
		"location":"Trailhead","locationLat":37.8,
		"invitedDivision":["d1"],
		"goingUser":["u1"],"declinedUser":["u2"]
	}`)
	gt.NoError(t, f.s.PopulateEvent(ctx, "e1", payload)).Required()
	gt.NoError(t, f.store.View(ctx, func(tx localstore.Tx) error {
		var err error
		as, err = tx.Attendance().ListByEvent(ctx, "e1")
		return err
	})).Required()
	idx = domain.IndexResponders(as)
	gt.Value(t, idx[domain.ResponseGoing]).Equal([]domain.UserID{"u1"})
	gt.Value(t, idx[domain.ResponseDecline]).Equal([]domain.UserID{"u2"})
	gt.Array(t, idx[domain.ResponseMaybe]).Length(0)
	gt.Array(t, f.bus.byTopic(notify.TopicCalendarSync)).Length(2)
}

func TestPopulateEvent_UserInTwoResponsesIsParseError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.s.PopulateEvent(ctx, "e1", json.RawMessage(`{
		"name":"Trail run",
		"startDateTime":"2024-06-01T09:00:00","endDateTime":"2024-06-01T11:00:00",
		"goingUser":["u1"],"maybeUser":["u1"]
	}`))
	gt.Error(t, err).Is(ErrParse)

	gt.NoError(t, f.store.View(ctx, func(tx localstore.Tx) error {
		_, err := tx.Events().Get(ctx, "e1")
		gt.Error(t, err).Is(localstore.ErrNotFound)
		_, err = tx.Users().Get(ctx, "u1")
		gt.Error(t, err).Is(localstore.ErrNotFound)
		return nil
	}))
}

func TestSync_SkipsWhileInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.on(userRequest("u1"), userU1)
	gate := make(chan struct{})
	f.sender.gate = gate

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		gt.NoError(t, f.s.Sync(ctx, KindUser, "u1"))
	}()
	deadline := time.Now().Add(5 * time.Second)
	for !f.s.InProgress(KindUser, "u1") {
		if time.Now().After(deadline) {
			t.Fatalf("sync never started")
		}
		time.Sleep(time.Millisecond)
	}

	// The second call returns at once without a request.
	gt.NoError(t, f.s.Sync(ctx, KindUser, "u1"))
	close(gate)
	wg.Wait()

	gt.Value(t, f.sender.count(userRequest("u1"))).Equal(1)
	gt.Bool(t, f.s.InProgress(KindUser, "u1")).False()

	// The flag is cleared on failure too.
	f.s.Wait()
	f.sender.mu.Lock()
	f.sender.gate = nil
	f.sender.mu.Unlock()
	err := f.s.Sync(ctx, KindUser, "u-missing")
	gt.Error(t, err).Is(clubapi.ErrClientError)
	gt.Bool(t, f.s.InProgress(KindUser, "u-missing")).False()
}

func TestSync_EmptyResponse(t *testing.T) {
	f := newFixture(t)
	f.sender.on(userRequest("u1"), "")
	err := f.s.Sync(context.Background(), KindUser, "u1")
	gt.Error(t, err).Is(clubapi.ErrEmptyResponse)
}

func TestReconcileMemberships(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	diff, err := f.s.ReconcileMemberships(ctx, json.RawMessage(`["d1","d2"]`))
	gt.NoError(t, err).Required()
	gt.Value(t, diff.Added).Equal([]domain.DivisionID{"d1", "d2"})
	gt.Array(t, diff.Removed).Length(0)
	f.s.Wait()

	before := f.bus.total()
	diff, err = f.s.ReconcileMemberships(ctx, json.RawMessage(`["d2",{"id":"d3"}]`))
	gt.NoError(t, err).Required()
	gt.Value(t, diff.Added).Equal([]domain.DivisionID{"d3"})
	gt.Value(t, diff.Removed).Equal([]domain.DivisionID{"d1"})
	f.s.Wait()

	gt.Value(t, f.division(t, "d1").MembershipStatus).Equal(domain.MembershipFormerMember)
	gt.Value(t, f.division(t, "d2").MembershipStatus).Equal(domain.MembershipMember)
	gt.Value(t, f.division(t, "d3").MembershipStatus).Equal(domain.MembershipMember)

	notes := f.bus.byTopic(notify.TopicDivisionSync)
	gt.Value(t, f.bus.total()).Equal(before + 1)
	gt.Value(t, sorted(notes[len(notes)-1].Subjects)).Equal([]string{"d1", "d3"})

	// Same list again: nothing to do.
	diff, err = f.s.ReconcileMemberships(ctx, json.RawMessage(`["d3","d2","d2"]`))
	gt.NoError(t, err).Required()
	gt.Bool(t, diff.Empty()).True()
	gt.Value(t, f.bus.total()).Equal(before + 1)
}

func TestReconcileMemberships_ParseError(t *testing.T) {
	f := newFixture(t)
	_, err := f.s.ReconcileMemberships(context.Background(), json.RawMessage(`["d1",7]`))
	gt.Error(t, err).Is(ErrParse)
	gt.Value(t, f.bus.total()).Equal(0)
}

func TestSyncAvatar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := clubapi.Get(clubapi.PathUserAvatar, url.Values{"userID": {"u1"}})
	f.sender.on(req, "\x89PNG")

	gt.NoError(t, f.s.SyncAvatar(ctx, "u1")).Required()
	gt.Value(t, string(f.user(t, "u1").Avatar)).Equal("\x89PNG")
	gt.NoError(t, f.s.SyncAvatar(ctx, "u1")).Required()
	gt.Array(t, f.bus.byTopic(notify.TopicUserSync)).Length(1)
}

func TestUpdate_FailureReleasesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := f.s.Update(ctx, func(ctx context.Context, u *Unit) error {
		if _, err := f.s.Resolve(ctx, u, KindUser, json.RawMessage(`"u1"`)); err != nil {
			return err
		}
		u.Notify(notify.TopicUserSync, "u1")
		return boom
	})
	gt.Error(t, err).Is(boom)
	f.s.Wait()
	gt.Value(t, f.bus.total()).Equal(0)
	gt.Array(t, f.sender.requests).Length(0)
}

// stallingPublisher holds its first Publish until release is closed.
type stallingPublisher struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once

	mu    sync.Mutex
	order []string
}

func (p *stallingPublisher) Publish(topic notify.Topic, subjects ...string) {
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.entered)
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.order = append(p.order, subjects...)
}

func TestUpdate_PublishesInCommitOrder(t *testing.T) {
	pub := &stallingPublisher{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(Config{Store: memstore.NewStore(), Sender: newFakeSender(), Bus: pub, Clock: memclock.NewManualClock(t0)})
	t.Cleanup(s.Close)
	ctx := context.Background()

	notifyUnit := func(subject string) func(ctx context.Context, u *Unit) error {
		return func(ctx context.Context, u *Unit) error {
			u.Notify(notify.TopicUserSync, subject)
			return nil
		}
	}

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.Update(ctx, notifyUnit("first")) }()
	<-pub.entered

	secondDone := make(chan error, 1)
	go func() { secondDone <- s.Update(ctx, notifyUnit("second")) }()

	select {
	case err := <-secondDone:
		t.Fatalf("second unit finished while the first was still publishing: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(pub.release)

	gt.NoError(t, <-firstDone).Required()
	gt.NoError(t, <-secondDone).Required()
	gt.Value(t, pub.order).Equal([]string{"first", "second"})
}
