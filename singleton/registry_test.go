package singleton_test

import (
	"reflect"
	"sync"
	"testing"

	"github.com/nielskrijger/appboot/singleton"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Managed interface {
	ID() string
}

type Mailer interface {
	Managed
	Send(to string) error
}

type Unrelated interface {
	Unrelated()
}

type Auditor interface {
	Audit()
}

type SMTPMailer struct {
	host string
}

func (m *SMTPMailer) ID() string            { return "smtp" }
func (m *SMTPMailer) Send(to string) error { return nil }
func (m *SMTPMailer) Audit()                {}

func (m *SMTPMailer) Hierarchy() []reflect.Type {
	return []reflect.Type{
		singleton.TypeOf[Mailer](),
		singleton.TypeOf[Unrelated](),
		singleton.TypeOf[Auditor](),
	}
}

type Plain struct {
	name string
}

func (p *Plain) ID() string { return "plain" + p.name }

func TestRegistry_RegisterInstanceWithHierarchy(t *testing.T) {
	r := singleton.New[Managed]()
	mailer := &SMTPMailer{host: "localhost"}

	require.Nil(t, r.RegisterInstance(mailer, true))

	byBase, ok, err := r.Instance(singleton.TypeOf[Mailer](), false, true)
	assert.Nil(t, err)
	assert.True(t, ok)
	assert.Same(t, mailer, byBase)

	bySub, ok, err := r.Instance(singleton.TypeOf[*SMTPMailer](), false, true)
	assert.Nil(t, err)
	assert.True(t, ok)
	assert.Same(t, mailer, bySub)
}

func TestRegistry_HierarchyStopsAtFirstUnsatisfiedType(t *testing.T) {
	r := singleton.New[Managed]()

	require.Nil(t, r.RegisterInstance(&SMTPMailer{}, true))

	_, ok := r.Lookup(singleton.TypeOf[Unrelated]())
	assert.False(t, ok)

	_, ok = r.Lookup(singleton.TypeOf[Auditor]())
	assert.False(t, ok, "types after the first unsatisfied one are not aliased")
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_RegisterInstanceWithoutHierarchy(t *testing.T) {
	r := singleton.New[Managed]()
	mailer := &SMTPMailer{}

	require.Nil(t, r.RegisterInstance(mailer, false))

	_, ok, err := r.Instance(singleton.TypeOf[Mailer](), false, false)
	assert.Nil(t, err)
	assert.False(t, ok)

	bySub, ok, err := r.Instance(singleton.TypeOf[*SMTPMailer](), false, false)
	assert.Nil(t, err)
	assert.True(t, ok)
	assert.Same(t, mailer, bySub)
}

func TestRegistry_RegisterInstanceErrorNil(t *testing.T) {
	r := singleton.New[Managed]()

	var mailer *SMTPMailer

	assert.Equal(t, singleton.ErrNilInstance, r.RegisterInstance(mailer, true))
}

func TestRegistry_AutoRegisterZeroValue(t *testing.T) {
	r := singleton.New[Managed]()

	first, ok, err := r.Instance(singleton.TypeOf[*Plain](), true, true)
	require.Nil(t, err)
	assert.True(t, ok)
	assert.IsType(t, &Plain{}, first)

	second, _, err := r.Instance(singleton.TypeOf[*Plain](), true, true)
	require.Nil(t, err)
	assert.Same(t, first, second)
}

func TestRegistry_AutoRegisterWithFactory(t *testing.T) {
	r := singleton.New[Managed]()
	calls := 0

	r.RegisterFactory(singleton.TypeOf[Mailer](), func() (Managed, error) {
		calls++

		return &SMTPMailer{host: "factory"}, nil
	})

	m, ok, err := r.Instance(singleton.TypeOf[Mailer](), true, true)
	require.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, "factory", m.(*SMTPMailer).host)

	concrete, ok := r.Lookup(singleton.TypeOf[*SMTPMailer]())
	assert.True(t, ok)
	assert.Same(t, m, concrete)

	_, _, _ = r.Instance(singleton.TypeOf[Mailer](), true, true)
	assert.Equal(t, 1, calls)
}

func TestRegistry_AutoRegisterDisabled(t *testing.T) {
	r := singleton.New[Managed]()

	m, ok, err := r.Instance(singleton.TypeOf[*Plain](), false, true)

	assert.Nil(t, err)
	assert.False(t, ok)
	assert.Nil(t, m)
	assert.Equal(t, 0, r.Len())
}

var errFactory = errors.New("cannot dial")

func TestRegistry_ConstructionErrors(t *testing.T) {
	r := singleton.New[Managed]()
	r.RegisterFactory(singleton.TypeOf[*SMTPMailer](), func() (Managed, error) {
		return nil, errFactory
	})
	r.RegisterFactory(singleton.TypeOf[Auditor](), func() (Managed, error) {
		panic("boom")
	})
	r.RegisterFactory(singleton.TypeOf[Unrelated](), func() (Managed, error) {
		return &Plain{}, nil
	})

	tests := []struct {
		name  string
		typ   reflect.Type
		cause error
	}{
		{"factory error", singleton.TypeOf[*SMTPMailer](), errFactory},
		{"no factory for interface", singleton.TypeOf[Mailer](), singleton.ErrNoFactory},
		{"factory returns wrong type", singleton.TypeOf[Unrelated](), singleton.ErrNotManaged},
		{"struct not managed", singleton.TypeOf[*struct{ Name string }](), singleton.ErrNotManaged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := r.Instance(tt.typ, true, true)

			assert.False(t, ok)
			assert.True(t, errors.Is(err, singleton.ErrConstruction))
			assert.True(t, errors.Is(err, tt.cause))

			var cerr *singleton.ConstructionError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.typ, cerr.Type)
		})
	}

	_, _, err := r.Instance(singleton.TypeOf[Auditor](), true, true)
	assert.True(t, errors.Is(err, singleton.ErrConstruction))
	assert.Contains(t, err.Error(), "panic: boom")
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Clear(t *testing.T) {
	r := singleton.New[Managed]()
	r.RegisterFactory(singleton.TypeOf[Mailer](), func() (Managed, error) {
		return &SMTPMailer{}, nil
	})
	require.Nil(t, r.RegisterInstance(&SMTPMailer{}, true))

	r.Clear()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Types())

	_, ok, err := r.Instance(singleton.TypeOf[Mailer](), true, true)
	assert.Nil(t, err)
	assert.True(t, ok, "factories survive clear")
}

func TestRegistry_Types(t *testing.T) {
	r := singleton.New[Managed]()
	require.Nil(t, r.RegisterInstance(&SMTPMailer{}, true))

	assert.Equal(t, []reflect.Type{
		singleton.TypeOf[*SMTPMailer](),
		singleton.TypeOf[Mailer](),
	}, r.Types())
}

func TestRegistry_ConcurrentAutoRegister(t *testing.T) {
	r := singleton.New[Managed]()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[Managed]struct{})
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			m, _, err := r.Instance(singleton.TypeOf[*Plain](), true, true)
			assert.Nil(t, err)

			mu.Lock()
			results[m] = struct{}{}
			mu.Unlock()
		}()
	}

	wg.Wait()

	assert.Len(t, results, 1)
}
