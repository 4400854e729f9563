// Package primary implements the record actions of the site: the
// validation and mutation pipeline shared by every record kind, the
// ordering of listed collections and the error taxonomy returned to
// callers.
package primary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vitae/vitae/backend/go-services/internal/publish"
	"github.com/vitae/vitae/backend/go-services/internal/records"
	"github.com/vitae/vitae/backend/go-services/internal/storage"
	"github.com/vitae/vitae/backend/go-services/pkg/logger"
	"github.com/vitae/vitae/backend/go-services/pkg/metrics"
)

// Verb is the operation half of an action.
type Verb string

const (
	Create Verb = "create"
	Read   Verb = "read"
	Update Verb = "update"
	Delete Verb = "delete"
)

// Request is the input of an action. Data is the decoded request data,
// normally a JSON object. User is the verified caller id, empty when the
// request carries no identity.
type Request struct {
	Data any
	User string
}

func (r Request) data() map[string]any {
	if m, ok := r.Data.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// Action is a single named operation.
type Action func(ctx context.Context, req Request) (any, error)

// Noun groups the actions exposed under one name, e.g. "skill" or
// "skill/categories". Nil verbs are not exposed.
type Noun struct {
	Name    string
	Actions map[Verb]Action
}

// Stores holds the storage of every record kind.
type Stores struct {
	Experience    storage.Storage
	Skill         storage.Storage
	SkillCategory storage.Storage
	Static        storage.Storage
}

// Options configures a Service.
type Options struct {
	// Editing permits create, update and delete.
	Editing bool
	// DefaultUser is recorded in revisions when a request has no user.
	DefaultUser string
	// Publisher receives Static content after every write. Optional.
	Publisher publish.Publisher
}

// Service dispatches actions to the per-kind pipelines.
type Service struct {
	editing     bool
	defaultUser string
	publisher   publish.Publisher
	stores      Stores
	entities    map[string]*entity
	nouns       []Noun
	index       map[string]Noun
}

func New(stores Stores, opts Options) *Service {
	s := &Service{
		editing:     opts.Editing,
		defaultUser: opts.DefaultUser,
		publisher:   opts.Publisher,
		stores:      stores,
	}
	if s.publisher == nil {
		s.publisher = publish.Nop{}
	}

	experience := &entity{
		svc: s, store: stores.Experience, kind: records.Experience.Name,
		protected: records.Managed,
		order:     Order{Field: "from", Desc: true},
		check:     toAfterFrom,
	}
	skill := &entity{
		svc: s, store: stores.Skill, kind: records.Skill.Name,
		protected: records.Managed,
		filter:    "category",
		order:     Order{Field: "name"},
	}
	category := &entity{
		svc: s, store: stores.SkillCategory, kind: records.SkillCategory.Name,
		protected: records.Managed,
		order:     Order{Field: "name"},
	}
	category.beforeRemove = s.unreferenced
	static := &entity{
		svc: s, store: stores.Static, kind: records.Static.Name,
		protected: append(append([]string{}, records.Managed...), "key"),
		lookup:    map[string]string{"key": "ui_key"},
		order:     Order{Field: "key"},
	}
	static.afterWrite = s.publishStatic
	static.afterRemove = s.unpublishStatic

	s.entities = map[string]*entity{
		experience.kind: experience,
		skill.kind:      skill,
		category.kind:   category,
		static.kind:     static,
	}

	crud := func(e *entity) map[Verb]Action {
		return map[Verb]Action{Create: e.create, Read: e.read, Update: e.update, Delete: e.remove}
	}
	listed := func(e *entity) map[Verb]Action {
		return map[Verb]Action{Read: e.list}
	}
	s.nouns = []Noun{
		{Name: "experience", Actions: crud(experience)},
		{Name: "experiences", Actions: listed(experience)},
		{Name: "skill", Actions: crud(skill)},
		{Name: "skills", Actions: listed(skill)},
		{Name: "skill/category", Actions: crud(category)},
		{Name: "skill/categories", Actions: listed(category)},
		{Name: "static", Actions: crud(static)},
		{Name: "statics", Actions: listed(static)},
		{Name: "revisions", Actions: map[Verb]Action{Read: s.revisions}},
		{Name: "__list", Actions: map[Verb]Action{Read: s.batch}},
	}
	s.index = make(map[string]Noun, len(s.nouns))
	for _, n := range s.nouns {
		s.index[n.Name] = n
	}
	return s
}

// Nouns lists every exposed noun in registration order.
func (s *Service) Nouns() []Noun { return s.nouns }

// Editing reports whether mutations are permitted.
func (s *Service) Editing() bool { return s.editing }

// Do runs the named action. Failures are always *Error.
func (s *Service) Do(ctx context.Context, noun string, verb Verb, req Request) (any, error) {
	action := noun + " " + string(verb)
	n, ok := s.index[noun]
	if !ok || n.Actions[verb] == nil {
		metrics.Requests.WithLabelValues(action, "unknown").Inc()
		return nil, &Error{Kind: NotFound, Details: []any{noun, string(verb)}}
	}
	out, err := n.Actions[verb](ctx, req)
	if err != nil {
		var perr *Error
		if !errors.As(err, &perr) {
			perr = internal(err)
		}
		if perr.Kind == Internal {
			logger.Errorf("%s: %v", action, err)
		} else {
			logger.Debugf("%s: %v", action, perr)
		}
		metrics.Requests.WithLabelValues(action, strings.ToLower(string(perr.Kind))).Inc()
		return nil, perr
	}
	metrics.Requests.WithLabelValues(action, "ok").Inc()
	return out, nil
}

func (s *Service) revision(req Request) storage.Revision {
	if req.User != "" {
		return storage.Revision{User: req.User}
	}
	return storage.Revision{User: s.defaultUser}
}

// unreferenced blocks removing a category that skills still point at.
func (s *Service) unreferenced(ctx context.Context, id string) error {
	skills, err := s.stores.Skill.Filter(ctx, "category", id)
	if err != nil {
		return internal(err)
	}
	if len(skills) > 0 {
		return &Error{Kind: ReferentialConflict, Details: []any{id, records.SkillCategory.Name, records.Skill.Name}}
	}
	return nil
}

func (s *Service) publishStatic(ctx context.Context, rec records.Record) {
	key, _ := rec["key"].(string)
	content, _ := rec["content"].(string)
	if key == "" {
		return
	}
	if err := s.publisher.Put(ctx, key, content); err != nil {
		logger.Warnf("publish static %s: %v", key, err)
	}
}

func (s *Service) unpublishStatic(ctx context.Context, rec records.Record) {
	key, _ := rec["key"].(string)
	if key == "" {
		return
	}
	if err := s.publisher.Remove(ctx, key); err != nil {
		logger.Warnf("unpublish static %s: %v", key, err)
	}
}

// Republish writes every Static record to the publisher and returns the
// keys written.
func (s *Service) Republish(ctx context.Context) ([]string, error) {
	list, err := s.stores.Static.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list statics: %w", err)
	}
	keys := make([]string, 0, len(list))
	for _, rec := range list {
		key, _ := rec["key"].(string)
		content, _ := rec["content"].(string)
		if err := s.publisher.Put(ctx, key, content); err != nil {
			return keys, fmt.Errorf("publish %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// revisions returns the audit trail of one record: {kind, _id}.
func (s *Service) revisions(ctx context.Context, req Request) (any, error) {
	data := req.data()
	var absent []string
	for _, k := range []string{"kind", records.IDField} {
		if _, ok := data[k]; !ok {
			absent = append(absent, k)
		}
	}
	if len(absent) > 0 {
		return nil, missing(absent...)
	}
	kind, _ := data["kind"].(string)
	e, ok := s.entities[kind]
	if !ok {
		return nil, invalid(records.FieldError{Field: "kind", Reason: records.ReasonInvalid})
	}
	id, err := idArg(data[records.IDField])
	if err != nil {
		return nil, err
	}
	list, err := e.store.Revisions(ctx, id)
	if err != nil {
		return nil, e.translate(err, id)
	}
	return list, nil
}

// batch reads several list nouns in one call. Data is a list of noun
// names; the result maps each name to its list.
func (s *Service) batch(ctx context.Context, req Request) (any, error) {
	out := map[string]any{}
	if req.Data == nil {
		return out, nil
	}
	names, ok := req.Data.([]any)
	if !ok {
		return nil, invalid(records.FieldError{Field: "data", Reason: records.ReasonInvalid})
	}
	for _, v := range names {
		name, _ := v.(string)
		if !isListNoun(name) {
			return nil, invalid(records.FieldError{Field: fmt.Sprint(v), Reason: records.ReasonInvalid})
		}
		res, err := s.index[name].Actions[Read](ctx, Request{User: req.User})
		if err != nil {
			return nil, err
		}
		out[name] = res
	}
	return out, nil
}

func isListNoun(name string) bool {
	switch name {
	case "experiences", "skills", "skill/categories", "statics":
		return true
	}
	return false
}
