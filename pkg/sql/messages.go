package sql

import (
	"math/rand"
	"sync"
)

// MessageProvider renders the user-facing text of a query error.
// It never changes the error's kind.
type MessageProvider interface {
	Message(err *QueryError) string
}

// PlainMessages renders "<kind>: <detail>".
type PlainMessages struct{}

// Message implements MessageProvider.
func (PlainMessages) Message(err *QueryError) string {
	if err.Detail == "" {
		return err.Kind.Error()
	}
	return err.Kind.Error() + ": " + err.Detail
}

var sarcasticPools = map[error][]string{
	ErrMutationRejected: {
		"Whoa there, cowboy! This is a READ-ONLY zone. Your destructive tendencies are not welcome here.",
		"Nice try, data destroyer! This isn't a playground where you can break things. SELECT only, please.",
		"ERROR: Mutation detected! I'm not your personal database demolition crew.",
		"Access Denied: You're about as welcome as a bull in a china shop. Stick to SELECT statements.",
		"Hold up! This isn't 'Destroy the Database 101'. Keep your grubby mutations to yourself.",
		"Mutation Alert! I don't do destruction, only construction... of result sets.",
		"Nope! Your query has more red flags than a parade. READ-ONLY means READ-ONLY!",
		"Error 403: Forbidden. I'm a data reader, not a data wrecker. Try a SELECT statement instead.",
		"Mutation rejected! I have commitment issues with permanent changes.",
		"Access Violation: Your query is trying to be too handsy with my data. Keep it platonic with SELECT!",
	},
	ErrSyntaxInvalid: {
		"Nice try, but that's not how SQL works. Maybe try a SELECT statement?",
		"ERROR: Your query is as broken as my faith in humanity. Try again.",
		"Syntax Error: Even my grandmother writes better SQL than that.",
		"Invalid Query: I've seen better attempts from a rubber duck.",
		"Query Failed: That's not SQL, that's just wishful thinking.",
		"Error 404: Valid SQL syntax not found in your query.",
		"Nice query! Said no database ever. Try SELECT * FROM reality;",
		"Your SQL skills need more work than a fixer-upper house.",
	},
	ErrMultiStatement: {
		"Multiple statements detected! What are you trying to pull here? One SELECT at a time, buddy.",
	},
	ErrMissingFromClause: {
		"FROM clause missing. Where exactly do you want me to get this data from, thin air?",
	},
	ErrUnsupported: {
		"Are you trying to be clever? That's beyond what this little engine does.",
	},
	ErrEmptyResult: {
		"No results found. Your WHERE clause was a little too picky.",
	},
}

// SarcasticMessages picks a random flavored message per error kind.
// Kinds that need the detail to be useful (unknown table or column,
// source failures) keep the plain rendering.
type SarcasticMessages struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSarcasticMessages creates a provider drawing from rnd.
// A nil rnd uses a fixed seed.
func NewSarcasticMessages(rnd *rand.Rand) *SarcasticMessages {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(1))
	}
	return &SarcasticMessages{rnd: rnd}
}

// Message implements MessageProvider.
func (m *SarcasticMessages) Message(err *QueryError) string {
	pool, ok := sarcasticPools[err.Kind]
	if !ok {
		return PlainMessages{}.Message(err)
	}
	m.mu.Lock()
	i := m.rnd.Intn(len(pool))
	m.mu.Unlock()
	return pool[i]
}
