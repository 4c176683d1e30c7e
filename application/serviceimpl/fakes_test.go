package serviceimpl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"retreat-photos/domain/models"
	"retreat-photos/domain/repositories"
	"retreat-photos/domain/services"
	"retreat-photos/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.SetDefault(logger.Nop())
	os.Exit(m.Run())
}

var admin = services.Caller{UserID: uuid.New(), CanManagePhotos: true, CanBroadcast: true}

// ---- images ----

type fakeImageRepo struct {
	mu     sync.Mutex
	images map[uuid.UUID]*models.EventImage
	seq    int
	// faces receives face rows written by MarkIndexed when set.
	faces *fakeFaceRepo
}

func newFakeImageRepo() *fakeImageRepo {
	return &fakeImageRepo{images: make(map[uuid.UUID]*models.EventImage)}
}

func (r *fakeImageRepo) add(eventID uuid.UUID, status models.IndexStatus) *models.EventImage {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	id := uuid.New()
	img := &models.EventImage{
		ID:            id,
		EventID:       eventID,
		OriginalPath:  fmt.Sprintf("events/%s/original/%s.jpg", eventID, id),
		ThumbnailPath: fmt.Sprintf("events/%s/thumb/%s.jpg", eventID, id),
		IndexStatus:   status,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now().Add(time.Duration(r.seq) * time.Millisecond),
	}
	r.images[id] = img
	return img
}

func (r *fakeImageRepo) get(id uuid.UUID) models.EventImage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.images[id]
}

func (r *fakeImageRepo) Create(ctx context.Context, image *models.EventImage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *image
	cp.UpdatedAt = time.Now()
	r.images[image.ID] = &cp
	return nil
}

func (r *fakeImageRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.EventImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.images[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *img
	return &cp, nil
}

func (r *fakeImageRepo) GetByIDsForEvent(ctx context.Context, eventID uuid.UUID, ids []uuid.UUID) ([]models.EventImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.EventImage
	for _, id := range ids {
		if img, ok := r.images[id]; ok && img.EventID == eventID {
			out = append(out, *img)
		}
	}
	return out, nil
}

func (r *fakeImageRepo) ListByEvent(ctx context.Context, eventID uuid.UUID, status models.IndexStatus, offset, limit int) ([]models.EventImage, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.EventImage
	for _, img := range r.images {
		if img.EventID == eventID && (status == "" || img.IndexStatus == status) {
			out = append(out, *img)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeImageRepo) ListClaimCandidates(ctx context.Context, eventID uuid.UUID, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cands []*models.EventImage
	for _, img := range r.images {
		if img.EventID == eventID && (img.IndexStatus == models.IndexStatusPending || img.IndexStatus == models.IndexStatusFailed) {
			cands = append(cands, img)
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		pi, pj := cands[i].IndexStatus == models.IndexStatusPending, cands[j].IndexStatus == models.IndexStatusPending
		if pi != pj {
			return pi
		}
		return cands[i].UpdatedAt.Before(cands[j].UpdatedAt)
	})
	var ids []uuid.UUID
	for i, img := range cands {
		if i == limit {
			break
		}
		ids = append(ids, img.ID)
	}
	return ids, nil
}

func (r *fakeImageRepo) ClaimForProcessing(ctx context.Context, ids []uuid.UUID, claimID uuid.UUID) ([]models.EventImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.EventImage
	for _, id := range ids {
		img, ok := r.images[id]
		if !ok || (img.IndexStatus != models.IndexStatusPending && img.IndexStatus != models.IndexStatusFailed) {
			continue
		}
		claim := claimID
		img.IndexStatus = models.IndexStatusProcessing
		img.ClaimID = &claim
		img.UpdatedAt = time.Now()
		out = append(out, *img)
	}
	return out, nil
}

// held must be called with mu held.
func (r *fakeImageRepo) held(id, claimID uuid.UUID) (*models.EventImage, bool) {
	img, ok := r.images[id]
	if !ok || img.IndexStatus != models.IndexStatusProcessing || img.ClaimID == nil || *img.ClaimID != claimID {
		return nil, false
	}
	return img, true
}

func (r *fakeImageRepo) TouchClaim(ctx context.Context, id, claimID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.held(id, claimID)
	if ok {
		img.UpdatedAt = time.Now()
	}
	return ok, nil
}

func (r *fakeImageRepo) MarkIndexed(ctx context.Context, id, claimID uuid.UUID, faces []*models.Face) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.held(id, claimID)
	if !ok {
		return repositories.ErrClaimLost
	}
	if r.faces != nil {
		r.faces.replace(id, faces)
	}
	now := time.Now()
	count := len(faces)
	img.IndexStatus = models.IndexStatusIndexed
	img.FacesCount = &count
	img.IndexError = nil
	img.ClaimID = nil
	img.IndexedAt = &now
	img.UpdatedAt = now
	return nil
}

func (r *fakeImageRepo) MarkFailed(ctx context.Context, id, claimID uuid.UUID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.held(id, claimID)
	if !ok {
		return repositories.ErrClaimLost
	}
	img.IndexStatus = models.IndexStatusFailed
	img.IndexError = &message
	img.ClaimID = nil
	img.UpdatedAt = time.Now()
	return nil
}

func (r *fakeImageRepo) ResetStuckProcessing(ctx context.Context, eventID *uuid.UUID, olderThan time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	cutoff := time.Now().Add(-olderThan)
	for _, img := range r.images {
		if img.IndexStatus != models.IndexStatusProcessing || !img.UpdatedAt.Before(cutoff) {
			continue
		}
		if eventID != nil && img.EventID != *eventID {
			continue
		}
		marker := models.StuckResetMarker
		img.IndexStatus = models.IndexStatusPending
		img.IndexError = &marker
		img.ClaimID = nil
		img.UpdatedAt = time.Now()
		n++
	}
	return n, nil
}

func (r *fakeImageRepo) RequeueForReindex(ctx context.Context, eventID uuid.UUID, ids []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		img, ok := r.images[id]
		if ok && img.EventID == eventID && img.IndexStatus.Terminal() {
			img.IndexStatus = models.IndexStatusPending
			img.IndexError = nil
			n++
		}
	}
	return n, nil
}

func (r *fakeImageRepo) PipelineTotals(ctx context.Context, stuckAfter time.Duration) (models.PipelineTotals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var t models.PipelineTotals
	cutoff := time.Now().Add(-stuckAfter)
	for _, img := range r.images {
		switch img.IndexStatus {
		case models.IndexStatusPending:
			t.Pending++
		case models.IndexStatusProcessing:
			t.Processing++
			if img.UpdatedAt.Before(cutoff) {
				t.Stuck++
			}
		case models.IndexStatusFailed:
			t.Failed++
		}
	}
	return t, nil
}

func (r *fakeImageRepo) StatusCounts(ctx context.Context, eventID uuid.UUID) (models.StatusCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c models.StatusCounts
	for _, img := range r.images {
		if img.EventID != eventID {
			continue
		}
		switch img.IndexStatus {
		case models.IndexStatusPending:
			c.Pending++
		case models.IndexStatusProcessing:
			c.Processing++
		case models.IndexStatusIndexed:
			c.Indexed++
			if img.IndexedAt != nil && (c.LastIndexedAt == nil || img.IndexedAt.After(*c.LastIndexedAt)) {
				t := *img.IndexedAt
				c.LastIndexedAt = &t
			}
		case models.IndexStatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (r *fakeImageRepo) EventsWithPending(ctx context.Context, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, img := range r.images {
		if img.IndexStatus == models.IndexStatusPending && !seen[img.EventID] {
			seen[img.EventID] = true
			out = append(out, img.EventID)
		}
	}
	return out, nil
}

func (r *fakeImageRepo) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := r.images[id]; ok {
			delete(r.images, id)
			n++
		}
	}
	return n, nil
}

// ---- faces and tags ----

type fakeFaceRepo struct {
	mu    sync.Mutex
	faces []models.Face
	tags  *fakeTagRepo
}

func (r *fakeFaceRepo) replace(imageID uuid.UUID, faces []*models.Face) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.faces[:0]
	for _, f := range r.faces {
		if f.ImageID != imageID {
			kept = append(kept, f)
		}
	}
	r.faces = kept
	for _, f := range faces {
		cp := *f
		cp.ID = uuid.New()
		r.faces = append(r.faces, cp)
	}
}

func (r *fakeFaceRepo) GetByImage(ctx context.Context, imageID uuid.UUID) ([]models.Face, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Face
	for _, f := range r.faces {
		if f.ImageID == imageID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeFaceRepo) ImageIDsByProviderFaceIDs(ctx context.Context, eventID uuid.UUID, ids []string) (map[string]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := map[string]uuid.UUID{}
	for _, f := range r.faces {
		if f.EventID == eventID && want[f.ProviderFaceID] {
			out[f.ProviderFaceID] = f.ImageID
		}
	}
	return out, nil
}

func (r *fakeFaceRepo) ProviderFaceIDsByImages(ctx context.Context, imageIDs []uuid.UUID) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range imageIDs {
		want[id] = true
	}
	var out []string
	for _, f := range r.faces {
		if want[f.ImageID] {
			out = append(out, f.ProviderFaceID)
		}
	}
	return out, nil
}

func (r *fakeFaceRepo) DeleteByImages(ctx context.Context, imageIDs []uuid.UUID) (int64, int64, error) {
	r.mu.Lock()
	want := map[uuid.UUID]bool{}
	for _, id := range imageIDs {
		want[id] = true
	}
	var faces int64
	kept := r.faces[:0]
	for _, f := range r.faces {
		if want[f.ImageID] {
			faces++
			continue
		}
		kept = append(kept, f)
	}
	r.faces = kept
	r.mu.Unlock()

	var tags int64
	if r.tags != nil {
		tags = r.tags.deleteImages(want)
	}
	return faces, tags, nil
}

type tagKey struct{ image, person uuid.UUID }

type fakeTagRepo struct {
	mu   sync.Mutex
	tags map[tagKey]models.FaceTag
}

func newFakeTagRepo() *fakeTagRepo {
	return &fakeTagRepo{tags: map[tagKey]models.FaceTag{}}
}

func (r *fakeTagRepo) deleteImages(want map[uuid.UUID]bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k := range r.tags {
		if want[k.image] {
			delete(r.tags, k)
			n++
		}
	}
	return n
}

func (r *fakeTagRepo) Upsert(ctx context.Context, tags []*models.FaceTag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tags {
		k := tagKey{t.ImageID, t.PersonID}
		if existing, ok := r.tags[k]; ok {
			existing.Confidence = t.Confidence
			existing.UpdatedAt = time.Now()
			r.tags[k] = existing
			continue
		}
		cp := *t
		cp.CreatedAt = time.Now()
		r.tags[k] = cp
	}
	return nil
}

func (r *fakeTagRepo) GetByPerson(ctx context.Context, eventID, personID uuid.UUID) ([]models.FaceTag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.FaceTag
	for _, t := range r.tags {
		if t.EventID == eventID && t.PersonID == personID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeTagRepo) CountNewSince(ctx context.Context, since time.Time) ([]repositories.PersonMatchCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[uuid.UUID]int64{}
	for _, t := range r.tags {
		if !t.CreatedAt.Before(since) {
			counts[t.PersonID]++
		}
	}
	var out []repositories.PersonMatchCount
	for id, n := range counts {
		out = append(out, repositories.PersonMatchCount{PersonID: id, Images: n})
	}
	return out, nil
}

// ---- persons, events, tokens ----

type fakePersonRepo struct {
	mu      sync.Mutex
	persons map[uuid.UUID]*models.Person
	regs    map[uuid.UUID][]uuid.UUID // event -> persons
}

func newFakePersonRepo() *fakePersonRepo {
	return &fakePersonRepo{persons: map[uuid.UUID]*models.Person{}, regs: map[uuid.UUID][]uuid.UUID{}}
}

func (r *fakePersonRepo) add(name string, chatID string) *models.Person {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &models.Person{ID: uuid.New(), FullName: name}
	if chatID != "" {
		c := chatID
		p.TelegramChatID = &c
	}
	r.persons[p.ID] = p
	return p
}

func (r *fakePersonRepo) register(eventID uuid.UUID, personIDs ...uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs[eventID] = append(r.regs[eventID], personIDs...)
}

func (r *fakePersonRepo) chatOf(id uuid.UUID) *string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persons[id].TelegramChatID
}

func (r *fakePersonRepo) Create(ctx context.Context, person *models.Person) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *person
	r.persons[person.ID] = &cp
	return nil
}

func (r *fakePersonRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.persons[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakePersonRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Person, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Person
	for _, id := range ids {
		if p, ok := r.persons[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *fakePersonRepo) GetByChatID(ctx context.Context, chatID string) (*models.Person, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.persons {
		if p.TelegramChatID != nil && *p.TelegramChatID == chatID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *fakePersonRepo) ClearChatID(ctx context.Context, personID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.persons[personID]; ok {
		p.TelegramChatID = nil
	}
	return nil
}

func (r *fakePersonRepo) SubscribersForEvent(ctx context.Context, eventID uuid.UUID) ([]models.Person, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Person
	for _, id := range r.regs[eventID] {
		if p, ok := r.persons[id]; ok && p.TelegramChatID != nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

type fakeEventRepo struct {
	events map[uuid.UUID]*models.Event
}

func newFakeEventRepo(events ...*models.Event) *fakeEventRepo {
	r := &fakeEventRepo{events: map[uuid.UUID]*models.Event{}}
	for _, e := range events {
		r.events[e.ID] = e
	}
	return r
}

func (r *fakeEventRepo) Create(ctx context.Context, event *models.Event) error {
	r.events[event.ID] = event
	return nil
}

func (r *fakeEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	e, ok := r.events[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return e, nil
}

func (r *fakeEventRepo) Register(ctx context.Context, eventID, personID uuid.UUID) error {
	return nil
}

type fakeTokenRepo struct {
	mu      sync.Mutex
	tokens  map[string]*models.LinkToken
	persons *fakePersonRepo
}

func (r *fakeTokenRepo) Create(ctx context.Context, token *models.LinkToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *token
	r.tokens[token.Token] = &cp
	return nil
}

func (r *fakeTokenRepo) GetByToken(ctx context.Context, token string) (*models.LinkToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[token]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTokenRepo) Redeem(ctx context.Context, token string, chatID string) (*models.Person, error) {
	r.mu.Lock()
	t, ok := r.tokens[token]
	if !ok || t.Used {
		r.mu.Unlock()
		return nil, repositories.ErrTokenUsed
	}
	now := time.Now()
	t.Used = true
	t.UsedAt = &now
	personID := t.PersonID
	r.mu.Unlock()

	r.persons.mu.Lock()
	defer r.persons.mu.Unlock()
	p := r.persons.persons[personID]
	c := chatID
	p.TelegramChatID = &c
	cp := *p
	return &cp, nil
}

// ---- ledger and sessions ----

type fakeLedger struct {
	mu      sync.Mutex
	entries map[string]models.NotificationLedger
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: map[string]models.NotificationLedger{}}
}

func (l *fakeLedger) Reserve(ctx context.Context, entry *models.NotificationLedger) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[entry.Key]; ok {
		return repositories.ErrLedgerTaken
	}
	cp := *entry
	cp.CreatedAt = time.Now()
	l.entries[entry.Key] = cp
	return nil
}

func (l *fakeLedger) Complete(ctx context.Context, key string, sent, failed, blocked int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[key]
	e.Sent, e.Failed, e.Blocked = sent, failed, blocked
	l.entries[key] = e
	return nil
}

func (l *fakeLedger) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

func (l *fakeLedger) LatestIndexed(ctx context.Context, eventID uuid.UUID, kind string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var latest models.NotificationLedger
	for _, e := range l.entries {
		if e.EventID == eventID && e.Kind == kind && !e.CreatedAt.Before(latest.CreatedAt) {
			latest = e
		}
	}
	return latest.Indexed, nil
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]models.PollSession
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]models.PollSession{}}
}

func (s *fakeSessions) Load(ctx context.Context, key string) (*models.PollSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[key]
	return &sess, nil
}

func (s *fakeSessions) Save(ctx context.Context, key string, session *models.PollSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = *session
	return nil
}

// ---- external ports ----

type fakeProvider struct {
	mu            sync.Mutex
	collections   map[string]bool
	describeErr   error
	createErr     error
	indexFn       func(image []byte, externalID string) ([]services.DetectedFace, error)
	searchResult  []services.FaceMatch
	searchErr     error
	deleteErr     error
	deleted       [][]string
	maxImageBytes int64
	indexCalls    []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{collections: map[string]bool{}, maxImageBytes: 1024}
}

func (p *fakeProvider) DescribeCollection(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.describeErr != nil {
		return p.describeErr
	}
	if !p.collections[id] {
		return services.ErrCollectionNotFound
	}
	return nil
}

func (p *fakeProvider) CreateCollection(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return p.createErr
	}
	if p.collections[id] {
		return services.ErrCollectionExists
	}
	p.collections[id] = true
	return nil
}

func (p *fakeProvider) IndexFaces(ctx context.Context, collectionID string, image []byte, externalID string, maxFaces int) ([]services.DetectedFace, error) {
	p.mu.Lock()
	p.indexCalls = append(p.indexCalls, externalID)
	fn := p.indexFn
	p.mu.Unlock()
	if fn == nil {
		return []services.DetectedFace{{ProviderFaceID: "face-" + externalID, Confidence: 99}}, nil
	}
	return fn(image, externalID)
}

func (p *fakeProvider) SearchFacesByImage(ctx context.Context, collectionID string, image []byte, threshold float64, maxResults int) ([]services.FaceMatch, error) {
	return p.searchResult, p.searchErr
}

func (p *fakeProvider) DeleteFaces(ctx context.Context, collectionID string, ids []string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, append([]string(nil), ids...))
	if p.deleteErr != nil {
		return 0, p.deleteErr
	}
	return len(ids), nil
}

func (p *fakeProvider) MaxImageBytes() int64 {
	return p.maxImageBytes
}

type fakeStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	removeErr error
	putErr    error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}}
}

func (s *fakeStorage) Put(ctx context.Context, path string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.objects[path] = data
	return nil
}

func (s *fakeStorage) Remove(ctx context.Context, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeErr != nil {
		return s.removeErr
	}
	for _, p := range paths {
		delete(s.objects, p)
	}
	return nil
}

func (s *fakeStorage) PublicURL(path string) string {
	return "https://cdn.test/" + path
}

type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
	errs   map[string]error
	def    []byte
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{bodies: map[string][]byte{}, errs: map[string]error{}, def: []byte("jpeg")}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if b, ok := f.bodies[url]; ok {
		return b, nil
	}
	return f.def, nil
}

type sentMessage struct {
	ChatID string
	Text   string
	At     time.Time
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentMessage
	errs  map[string]error
	delay time.Duration
}

func newFakeSender() *fakeSender {
	return &fakeSender{errs: map[string]error{}}
}

func (s *fakeSender) SendMessage(ctx context.Context, chatID, text, format string) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.errs[chatID]; ok {
		return err
	}
	s.sent = append(s.sent, sentMessage{ChatID: chatID, Text: text, At: time.Now()})
	return nil
}

func (s *fakeSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type published struct {
	EventID uuid.UUID
	Type    string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) PublishEvent(eventID uuid.UUID, messageType string, data map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{eventID, messageType})
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// recordingNotifier captures what the match engine and completion watcher ask for.
type recordingNotifier struct {
	mu         sync.Mutex
	async      []uuid.UUID
	broadcasts []string
	result     *services.BroadcastResult
	err        error
}

func (n *recordingNotifier) SendSingle(ctx context.Context, caller services.Caller, personID uuid.UUID, text, format string) (*services.SingleResult, error) {
	return &services.SingleResult{Sent: true}, nil
}

func (n *recordingNotifier) Broadcast(ctx context.Context, caller services.Caller, eventID uuid.UUID, text, format string) (*services.BroadcastResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return nil, n.err
	}
	n.broadcasts = append(n.broadcasts, text)
	if n.result != nil {
		return n.result, nil
	}
	return &services.BroadcastResult{Total: 1, Sent: 1}, nil
}

func (n *recordingNotifier) Dispatch(ctx context.Context, kind string, messages []services.Message) *services.BroadcastResult {
	return &services.BroadcastResult{Total: len(messages), Sent: len(messages)}
}

func (n *recordingNotifier) SendSingleAsync(personID uuid.UUID, text, format string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.async = append(n.async, personID)
}

func (n *recordingNotifier) Wait() {}

func (n *recordingNotifier) broadcastCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.broadcasts)
}

var errBoom = errors.New("boom")
