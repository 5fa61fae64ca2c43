package trie

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matchSet(t *Trie[int], data []byte) []int {
	seen := map[int]struct{}{}
	t.Match(data, func(v int) { seen[v] = struct{}{} })
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func TestPrefixMatch(t *testing.T) {
	tr := New[int]()
	tr.Add([]byte("weather"), 1)
	tr.Add([]byte("weather.london"), 2)
	tr.Add([]byte("sport"), 3)
	tr.Add([]byte(""), 4)

	assert.Equal(t, []int{1, 2, 4}, matchSet(tr, []byte("weather.london.today")))
	assert.Equal(t, []int{1, 4}, matchSet(tr, []byte("weather.paris")))
	assert.Equal(t, []int{3, 4}, matchSet(tr, []byte("sport")))
	assert.Equal(t, []int{4}, matchSet(tr, []byte("finance")))
}

func TestExactSetSemantics(t *testing.T) {
	// Property 5: the match set is exactly the subscribers whose topic is a
	// prefix of the query.
	topics := map[int]string{1: "a", 2: "ab", 3: "abc", 4: "b", 5: "abd"}
	tr := New[int]()
	for v, topic := range topics {
		tr.Add([]byte(topic), v)
	}
	query := "abcx"
	want := []int{}
	for v, topic := range topics {
		if len(topic) <= len(query) && query[:len(topic)] == topic {
			want = append(want, v)
		}
	}
	sort.Ints(want)
	assert.Equal(t, want, matchSet(tr, []byte(query)))
}

func TestAddRmFirstLast(t *testing.T) {
	tr := New[int]()
	assert.True(t, tr.Add([]byte("x"), 1), "first subscriber")
	assert.False(t, tr.Add([]byte("x"), 2), "second subscriber")
	assert.False(t, tr.Rm([]byte("x"), 1))
	assert.True(t, tr.Rm([]byte("x"), 2), "last subscriber removed")
	assert.False(t, tr.Rm([]byte("x"), 2), "already gone")
}

func TestDuplicateSubscriptionsCount(t *testing.T) {
	tr := New[int]()
	tr.Add([]byte("t"), 1)
	tr.Add([]byte("t"), 1)
	assert.False(t, tr.Rm([]byte("t"), 1), "one reference remains")
	assert.True(t, tr.Rm([]byte("t"), 1))
}

func TestCountAndApply(t *testing.T) {
	tr := New[int]()
	tr.Add([]byte("alpha"), 1)
	tr.Add([]byte("alps"), 1)
	tr.Add([]byte("beta"), 2)
	require.Equal(t, 3, tr.Count())

	var topics []string
	tr.Apply(func(topic []byte) { topics = append(topics, string(topic)) })
	sort.Strings(topics)
	assert.Equal(t, []string{"alpha", "alps", "beta"}, topics)

	tr.Rm([]byte("alps"), 1)
	assert.Equal(t, 2, tr.Count())
}

func TestRmValue(t *testing.T) {
	tr := New[int]()
	tr.Add([]byte("a"), 1)
	tr.Add([]byte("ab"), 1)
	tr.Add([]byte("ab"), 2)

	var emptied []string
	tr.RmValue(1, func(topic []byte) { emptied = append(emptied, string(topic)) })
	assert.Equal(t, []string{"a"}, emptied, "ab still has subscriber 2")
	assert.Equal(t, 1, tr.Count())
}

func TestCheck(t *testing.T) {
	tr := New[int]()
	assert.False(t, tr.Check([]byte("anything")))
	tr.Add([]byte("an"), 1)
	assert.True(t, tr.Check([]byte("anything")))
	assert.False(t, tr.Check([]byte("a")))
}
