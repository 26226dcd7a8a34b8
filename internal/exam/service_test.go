package exam

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stationops/skillcheck/internal/model"
	"github.com/stationops/skillcheck/internal/store"
)

// stubGrader returns a fixed score and records every call.
type stubGrader struct {
	mu    sync.Mutex
	score float64
	calls int
}

func (g *stubGrader) Score(_ context.Context, _ model.Question, _ string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.score
}

type fixture struct {
	store   *store.Store
	svc     *Service
	grader  *stubGrader
	userID  int64
	staffID int64
	tags    map[string]int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureAt(t, ":memory:")
}

func newFixtureAt(t *testing.T, dbPath string) *fixture {
	t.Helper()
	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	f := &fixture{store: st, grader: &stubGrader{score: 80}, tags: make(map[string]int64)}
	f.userID, err = st.CreateUser(ctx, model.User{JobNumber: "ST001", PasswordHash: "x",
		Position: "Station Attendant", Role: model.UserRoleEmployee, Active: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	f.staffID, err = st.CreateUser(ctx, model.User{JobNumber: "ADM001", PasswordHash: "x",
		Role: model.UserRoleStaff, Active: true})
	if err != nil {
		t.Fatalf("CreateUser staff: %v", err)
	}
	for _, tag := range []model.Tag{
		{Name: "Tickets", Category: model.CategoryPosition},
		{Name: "Fire", Category: model.CategoryEmergency},
		{Name: "Station Attendant", Category: model.CategoryRole},
	} {
		id, err := st.CreateTag(ctx, tag)
		if err != nil {
			t.Fatalf("CreateTag: %v", err)
		}
		f.tags[tag.Name] = id
	}

	f.svc = NewService(st, model.DefaultAssessmentConfig(), f.grader)
	f.svc.newRand = func() *rand.Rand { return rand.New(rand.NewPCG(7, 11)) }
	return f
}

func (f *fixture) addQuestion(t *testing.T, qt model.QuestionType, answer string, tags ...string) int64 {
	t.Helper()
	var ids []int64
	for _, name := range tags {
		ids = append(ids, f.tags[name])
	}
	q := model.Question{Content: "q", Type: qt, CorrectAnswer: answer, Active: true}
	if qt.Objective() {
		q.Options = []model.Option{{Key: "A", Text: "a"}, {Key: "B", Text: "b"}, {Key: "D", Text: "d"}}
	}
	id, err := f.store.CreateQuestion(context.Background(), q, ids)
	if err != nil {
		t.Fatalf("CreateQuestion: %v", err)
	}
	return id
}

func (f *fixture) user(t *testing.T, id int64) *model.User {
	t.Helper()
	u, err := f.store.GetUserByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	return u
}

func TestGenerateEmptyPool(t *testing.T) {
	f := newFixture(t)
	view, err := f.svc.Generate(context.Background(), f.userID, model.ReasonDailyPractice)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(view.Records) != 0 {
		t.Errorf("expected empty paper, got %d records", len(view.Records))
	}
	if view.Paper.Status != model.PaperNotStarted {
		t.Errorf("expected not_started, got %q", view.Paper.Status)
	}
	if view.Paper.Title != "ST001 skills assessment" {
		t.Errorf("unexpected title %q", view.Paper.Title)
	}
	if view.Paper.TimeLimit != 1800 || view.Paper.TotalScore != 100 {
		t.Errorf("unexpected paper defaults: %+v", view.Paper)
	}
}

func TestGenerateErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Generate(ctx, 999, model.ReasonDailyPractice); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown user, got %v", err)
	}
	if _, err := f.svc.Generate(ctx, f.userID, "weekly"); !errors.Is(err, ErrInvalidReason) {
		t.Errorf("expected ErrInvalidReason, got %v", err)
	}
}

func TestGenerateRoleFilterAndRecent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for range 10 {
		f.addQuestion(t, model.QuestionSingle, "A", "Tickets", "Station Attendant")
	}
	subj := f.addQuestion(t, model.QuestionSubjective, "ref", "Station Attendant")
	for range 10 {
		f.addQuestion(t, model.QuestionSingle, "A", "Tickets") // not for this role
	}

	view, err := f.svc.Generate(ctx, f.userID, "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(view.Records) != 11 {
		t.Fatalf("expected 11 role questions, got %d", len(view.Records))
	}
	hasSubj := false
	for _, r := range view.Records {
		if !r.Question.HasTag(f.tags["Station Attendant"]) {
			t.Errorf("question %d lacks the role tag", r.Question.ID)
		}
		if r.Question.ID == subj {
			hasSubj = true
		}
	}
	if !hasSubj {
		t.Error("expected the role subjective question to be reserved")
	}
	if view.Paper.GenerationReason != model.ReasonDailyPractice {
		t.Errorf("expected default reason, got %q", view.Paper.GenerationReason)
	}

	// Every role question was just used; the filtered pool is empty, so the
	// generator falls back to the full active set.
	again, err := f.svc.Generate(ctx, f.userID, model.ReasonErrorReview)
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	if len(again.Records) != 15 {
		t.Errorf("expected 15 questions from the unfiltered pool, got %d", len(again.Records))
	}
}

func TestGenerateWeakRatio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No role tag named after this position: category filter applies.
	u, _ := f.store.CreateUser(ctx, model.User{JobNumber: "ST009", PasswordHash: "x", Position: "Cleaner", Active: true})
	for range 20 {
		f.addQuestion(t, model.QuestionSingle, "A", "Fire")
		f.addQuestion(t, model.QuestionSingle, "A", "Tickets")
	}
	if err := f.store.UpsertProfile(ctx, u, f.tags["Fire"], 30); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	view, err := f.svc.Generate(ctx, u, model.ReasonDailyPractice)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	weak := 0
	for _, r := range view.Records {
		if r.Question.HasTag(f.tags["Fire"]) {
			weak++
		}
	}
	if len(view.Records) != 15 || weak != 9 {
		t.Errorf("expected 9 weak of 15, got %d of %d", weak, len(view.Records))
	}
}

func TestSubmitScoresAndUpdatesProfiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.cfg.QuestionCount = 4

	single := f.addQuestion(t, model.QuestionSingle, "A", "Tickets", "Station Attendant")
	multi := f.addQuestion(t, model.QuestionMultiple, "A,B,D", "Fire", "Station Attendant")
	tf := f.addQuestion(t, model.QuestionTrueFalse, "True", "Tickets", "Station Attendant")
	subj := f.addQuestion(t, model.QuestionSubjective, "ref", "Fire", "Station Attendant")

	view, err := f.svc.Generate(ctx, f.userID, model.ReasonMandatoryAssessment)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(view.Records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(view.Records))
	}
	owner := f.user(t, f.userID)
	if _, err := f.svc.Start(ctx, owner, view.Paper.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	answers := map[int64]string{
		single: "a",        // correct
		multi:  "A, B, D",  // wrong under exact comparison
		tf:     "true",     // correct
		subj:   "evacuate", // graded 80
	}
	res, err := f.svc.Submit(ctx, owner, view.Paper.ID, answers)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// 25 + 0 + 25 + 25*0.8
	if math.Abs(res.TotalScore-70) > 1e-9 {
		t.Errorf("expected score 70, got %v", res.TotalScore)
	}
	if res.MaxScore != 100 || res.Accuracy != 70 {
		t.Errorf("unexpected max/accuracy: %+v", res)
	}
	if len(res.TagPerformance) != 2 {
		t.Fatalf("expected 2 scored tags, got %+v", res.TagPerformance)
	}
	if tp := res.TagPerformance[0]; tp.TagName != "Fire" || tp.CorrectCount != 1 || tp.TotalCount != 2 {
		t.Errorf("unexpected Fire performance: %+v", tp)
	}
	if tp := res.TagPerformance[1]; tp.TagName != "Tickets" || tp.Accuracy != 100 {
		t.Errorf("unexpected Tickets performance: %+v", tp)
	}
	if f.grader.calls != 1 {
		t.Errorf("expected 1 grader call, got %d", f.grader.calls)
	}

	// Sum of record scores equals the paper score.
	done, _ := f.store.GetPaperView(ctx, view.Paper.ID)
	var sum float64
	for _, r := range done.Records {
		sum += r.Record.ScoreGained
		if r.Record.IsCorrect == nil {
			t.Errorf("record %d not graded", r.Record.ID)
		}
	}
	if done.Paper.ScoreObtained == nil || math.Abs(sum-*done.Paper.ScoreObtained) > 1e-9 {
		t.Errorf("record sum %v != paper score %v", sum, done.Paper.ScoreObtained)
	}
	if done.Paper.Status != model.PaperCompleted || done.Paper.CompletedAt == nil {
		t.Errorf("paper not completed: %+v", done.Paper)
	}

	mastery, _ := f.store.MasteryByTag(ctx, f.userID)
	if mastery[f.tags["Fire"]] != 50 || mastery[f.tags["Tickets"]] != 100 {
		t.Errorf("unexpected first-time mastery: %v", mastery)
	}
	if _, ok := mastery[f.tags["Station Attendant"]]; ok {
		t.Error("role tag must not get a capability profile")
	}

	// Second submission is rejected and changes nothing.
	if _, err := f.svc.Submit(ctx, owner, view.Paper.ID, answers); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted, got %v", err)
	}
	after, _ := f.store.MasteryByTag(ctx, f.userID)
	if after[f.tags["Fire"]] != 50 {
		t.Errorf("mastery changed on rejected submission: %v", after)
	}
}

func TestSubmitEMA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.cfg.QuestionCount = 1

	q := f.addQuestion(t, model.QuestionSingle, "B", "Tickets", "Station Attendant")
	if err := f.store.UpsertProfile(ctx, f.userID, f.tags["Tickets"], 50); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	view, _ := f.svc.Generate(ctx, f.userID, model.ReasonDailyPractice)

	if _, err := f.svc.Submit(ctx, f.user(t, f.userID), view.Paper.ID, map[int64]string{q: "b"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	m, _ := f.store.MasteryByTag(ctx, f.userID)
	if math.Abs(m[f.tags["Tickets"]]-65) > 1e-9 {
		t.Errorf("expected mastery 65, got %v", m[f.tags["Tickets"]])
	}
}

func TestSubmitBlankSubjectiveSkipsGrader(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.cfg.QuestionCount = 1

	f.addQuestion(t, model.QuestionSubjective, "ref", "Fire", "Station Attendant")
	view, _ := f.svc.Generate(ctx, f.userID, model.ReasonDailyPractice)

	res, err := f.svc.Submit(ctx, f.user(t, f.userID), view.Paper.ID, map[int64]string{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.TotalScore != 0 {
		t.Errorf("expected 0, got %v", res.TotalScore)
	}
	if f.grader.calls != 0 {
		t.Errorf("grader should not be called for a blank answer, got %d calls", f.grader.calls)
	}
	recs, _ := f.store.GetRecords(ctx, view.Paper.ID)
	if recs[0].AIScore == nil || *recs[0].AIScore != 0 || *recs[0].IsCorrect {
		t.Errorf("unexpected blank subjective record: %+v", recs[0])
	}
}

func TestSubmitEmptyPaper(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, _ := f.svc.Generate(ctx, f.userID, model.ReasonDailyPractice)
	res, err := f.svc.Submit(ctx, f.user(t, f.userID), view.Paper.ID, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.TotalScore != 0 || res.Accuracy != 0 || len(res.TagPerformance) != 0 {
		t.Errorf("unexpected result for empty paper: %+v", res)
	}
}

func TestPermissionsAndStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, _ := f.svc.Generate(ctx, f.userID, model.ReasonDailyPractice)
	otherID, _ := f.store.CreateUser(ctx, model.User{JobNumber: "ST002", PasswordHash: "x", Active: true})
	other := f.user(t, otherID)
	staff := f.user(t, f.staffID)
	owner := f.user(t, f.userID)

	if _, err := f.svc.Start(ctx, other, view.Paper.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for other user start, got %v", err)
	}
	if _, err := f.svc.Submit(ctx, other, view.Paper.ID, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for other user submit, got %v", err)
	}
	if _, err := f.svc.Get(ctx, other, view.Paper.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for other user get, got %v", err)
	}
	if _, err := f.svc.Get(ctx, staff, view.Paper.ID); err != nil {
		t.Errorf("staff Get: %v", err)
	}

	started, err := f.svc.Start(ctx, owner, view.Paper.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Paper.Status != model.PaperInProgress || started.Paper.StartedAt == nil {
		t.Errorf("unexpected started paper: %+v", started.Paper)
	}
	if _, err := f.svc.Start(ctx, owner, view.Paper.ID); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
	if _, err := f.svc.Start(ctx, owner, 999); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	papers, _ := f.svc.List(ctx, other)
	if len(papers) != 0 {
		t.Errorf("other user should see no papers, got %d", len(papers))
	}
	papers, _ = f.svc.List(ctx, staff)
	if len(papers) != 1 {
		t.Errorf("staff should see 1 paper, got %d", len(papers))
	}

	if err := f.svc.Delete(ctx, owner, view.Paper.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for employee delete, got %v", err)
	}
	if _, err := f.svc.Submit(ctx, owner, view.Paper.ID, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := f.svc.Start(ctx, owner, view.Paper.ID); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted on start after submit, got %v", err)
	}
	if err := f.svc.Delete(ctx, staff, view.Paper.ID); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted for completed delete, got %v", err)
	}
}

// barrierGrader holds every Score call until n callers have arrived.
type barrierGrader struct {
	mu      sync.Mutex
	n       int
	arrived int
	release chan struct{}
}

func (g *barrierGrader) Score(_ context.Context, _ model.Question, _ string) float64 {
	g.mu.Lock()
	g.arrived++
	if g.arrived == g.n {
		close(g.release)
	}
	g.mu.Unlock()
	select {
	case <-g.release:
	case <-time.After(5 * time.Second):
	}
	return 90
}

func TestConcurrentSubmitScoresOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.cfg.QuestionCount = 1
	q := f.addQuestion(t, model.QuestionSubjective, "ref", "Fire", "Station Attendant")

	view, err := f.svc.Generate(ctx, f.userID, model.ReasonDailyPractice)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	owner := f.user(t, f.userID)

	const n = 8
	f.svc.grader = &barrierGrader{n: n, release: make(chan struct{})}

	errs := make(chan error, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Submit(ctx, owner, view.Paper.ID, map[int64]string{q: "evacuate"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, rejects int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyCompleted):
			rejects++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 || rejects != n-1 {
		t.Errorf("wins = %d, rejects = %d; want 1 and %d", wins, rejects, n-1)
	}

	mastery, _ := f.store.MasteryByTag(ctx, f.userID)
	if mastery[f.tags["Fire"]] != 100 {
		t.Errorf("expected Fire mastery 100 from a single scoring, got %v", mastery)
	}
}

func TestSubmitRollsBackOnProfileFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skillcheck.db")
	f := newFixtureAt(t, path)
	ctx := context.Background()
	f.svc.cfg.QuestionCount = 2
	single := f.addQuestion(t, model.QuestionSingle, "A", "Tickets", "Station Attendant")
	subj := f.addQuestion(t, model.QuestionSubjective, "ref", "Fire", "Station Attendant")

	view, err := f.svc.Generate(ctx, f.userID, model.ReasonDailyPractice)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw connection: %v", err)
	}
	_, err = raw.Exec(`CREATE TRIGGER fail_profiles BEFORE INSERT ON capability_profiles
		BEGIN SELECT RAISE(ABORT, 'profile write failed'); END`)
	raw.Close()
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	owner := f.user(t, f.userID)
	answers := map[int64]string{single: "A", subj: "evacuate"}
	if _, err := f.svc.Submit(ctx, owner, view.Paper.ID, answers); err == nil {
		t.Fatal("expected Submit to fail")
	}

	after, err := f.store.GetPaperView(ctx, view.Paper.ID)
	if err != nil {
		t.Fatalf("GetPaperView: %v", err)
	}
	if after.Paper.Status == model.PaperCompleted || after.Paper.CompletedAt != nil {
		t.Errorf("paper completed despite failure: %+v", after.Paper)
	}
	if after.Paper.ScoreObtained != nil {
		t.Errorf("score stored despite failure: %v", *after.Paper.ScoreObtained)
	}
	for _, r := range after.Records {
		if r.Record.IsCorrect != nil {
			t.Errorf("record %d graded despite failure", r.Record.ID)
		}
	}
	if mastery, _ := f.store.MasteryByTag(ctx, f.userID); len(mastery) != 0 {
		t.Errorf("profiles written despite failure: %v", mastery)
	}
}

// deletingGrader removes the paper while its answer is being graded.
type deletingGrader struct {
	svc     *Service
	staff   *model.User
	paperID int64
}

func (g *deletingGrader) Score(ctx context.Context, _ model.Question, _ string) float64 {
	if err := g.svc.Delete(ctx, g.staff, g.paperID); err != nil {
		panic(err)
	}
	return 70
}

func TestSubmitPaperDeletedDuringGrading(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.cfg.QuestionCount = 1
	q := f.addQuestion(t, model.QuestionSubjective, "ref", "Fire", "Station Attendant")

	view, err := f.svc.Generate(ctx, f.userID, model.ReasonDailyPractice)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	f.svc.grader = &deletingGrader{svc: f.svc, staff: f.user(t, f.staffID), paperID: view.Paper.ID}

	_, err = f.svc.Submit(ctx, f.user(t, f.userID), view.Paper.ID, map[int64]string{q: "evacuate"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
