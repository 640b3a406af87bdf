package docstore

import "testing"

type widget struct {
	ID    string
	Owner string
	Seq   string
	Slug  string
}

func newWidgets() *Collection[widget] {
	return NewCollection[widget]("widgets",
		IndexDef[widget]{Name: "byOwner", Key: func(w widget) string { return w.Owner }, Order: func(w widget) string { return w.Seq }},
		IndexDef[widget]{Name: "bySlug", Key: func(w widget) string { return w.Slug }, Unique: true},
	)
}

func TestPutGet(t *testing.T) {
	c := newWidgets()
	id, err := c.Put("", widget{Owner: "org1", Seq: "1", Slug: "a"})
	if err != nil {
		t.Fatal(err)
	}
	got, ok := c.Get(id)
	if !ok || got.Owner != "org1" {
		t.Fatalf("Get(%s) = %+v, %v", id, got, ok)
	}
}

func TestUniqueIndexConflict(t *testing.T) {
	c := newWidgets()
	if _, err := c.Put("", widget{Owner: "org1", Seq: "1", Slug: "dup"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Put("", widget{Owner: "org2", Seq: "1", Slug: "dup"}); err == nil {
		t.Fatal("expected unique conflict")
	}
}

func TestQueryByIndexOrder(t *testing.T) {
	c := newWidgets()
	c.Put("", widget{Owner: "org1", Seq: "2", Slug: "b"})
	c.Put("", widget{Owner: "org1", Seq: "1", Slug: "c"})
	c.Put("", widget{Owner: "org1", Seq: "3", Slug: "d"})
	c.Put("", widget{Owner: "org2", Seq: "9", Slug: "e"})

	asc := c.Query("byOwner").ByIndex("org1").Order(false).Take(10)
	if len(asc) != 3 || asc[0].Seq != "1" || asc[2].Seq != "3" {
		t.Fatalf("unexpected ascending order: %+v", asc)
	}

	desc := c.Query("byOwner").ByIndex("org1").Order(true).Take(2)
	if len(desc) != 2 || desc[0].Seq != "3" || desc[1].Seq != "2" {
		t.Fatalf("unexpected descending order: %+v", desc)
	}
}

func TestPatchPreservesID(t *testing.T) {
	c := newWidgets()
	id, _ := c.Put("", widget{Owner: "org1", Seq: "1", Slug: "a"})
	if _, err := c.Put(id, widget{Owner: "org1", Seq: "1", Slug: "a-renamed"}); err != nil {
		t.Fatal(err)
	}
	got, _ := c.Get(id)
	if got.Slug != "a-renamed" {
		t.Fatalf("patch did not apply: %+v", got)
	}
	// old slug index entry must be gone, freeing it for reuse elsewhere.
	if _, err := c.Put("", widget{Owner: "org2", Seq: "1", Slug: "a"}); err != nil {
		t.Fatalf("expected freed slug to be reusable: %v", err)
	}
}

func TestSearchText(t *testing.T) {
	docs := []widget{
		{Slug: "alpha-joke-teller"},
		{Slug: "beta-weather-api"},
		{Slug: "gamma-joke-api"},
	}
	results := SearchText(docs, func(w widget) string { return w.Slug }, "joke api", nil, 10)
	// Partial matches are kept: gamma matches both tokens; beta and alpha
	// match one each and tie-break by shorter text (16 vs 17 chars).
	if len(results) != 3 || results[0].Slug != "gamma-joke-api" || results[1].Slug != "beta-weather-api" || results[2].Slug != "alpha-joke-teller" {
		t.Fatalf("unexpected search results: %+v", results)
	}
}
