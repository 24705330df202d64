package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/hotelbook/concierge/internal/knowledge"
)

func TestCreateAndGetFAQ_AllFormats(t *testing.T) {
	s := openTestStore(t)

	cases := []knowledge.FAQ{
		{Topic: "Check-in time", ReplyMessage: "Check-in starts at 2 PM."},
		{Topic: "Amenities", ReplyMessage: "Pick one", Reply: knowledge.OptionsReply{Options: []knowledge.OptionDetail{
			{Option: "Pool", Detail: "Open 7am-10pm"},
			{Option: "Gym", Detail: "24/7"},
		}}},
		{Topic: "Our rooms", ReplyMessage: "Take a look", Reply: knowledge.RoomsReply{Rooms: []string{"Deluxe", "Suite"}, ButtonName: "Book"}},
	}
	for _, in := range cases {
		created, err := s.CreateFAQ(ctx, in)
		if err != nil {
			t.Fatalf("CreateFAQ(%q): %v", in.Topic, err)
		}
		got, err := s.GetFAQ(ctx, created.ID)
		if err != nil {
			t.Fatalf("GetFAQ: %v", err)
		}
		if got.Topic != in.Topic || got.ReplyMessage != in.ReplyMessage {
			t.Errorf("got %+v", got)
		}
		if got.Format() != in.Format() {
			t.Errorf("format = %s, want %s", got.Format(), in.Format())
		}
	}

	faqs, err := s.ListFAQs(ctx)
	if err != nil {
		t.Fatalf("ListFAQs: %v", err)
	}
	if len(faqs) != 3 {
		t.Errorf("got %d faqs, want 3", len(faqs))
	}
	rooms := findTopic(faqs, "Our rooms").Reply.(knowledge.RoomsReply)
	if len(rooms.Rooms) != 2 || rooms.ButtonName != "Book" {
		t.Errorf("rooms reply = %+v", rooms)
	}
}

func findTopic(faqs []knowledge.FAQ, topic string) knowledge.FAQ {
	for _, f := range faqs {
		if f.Topic == topic {
			return f
		}
	}
	return knowledge.FAQ{}
}

func TestCreateFAQ_DuplicateNormalizedTopic(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.CreateFAQ(ctx, knowledge.FAQ{Topic: "Parking", ReplyMessage: "Free"}); err != nil {
		t.Fatalf("CreateFAQ: %v", err)
	}
	_, err := s.CreateFAQ(ctx, knowledge.FAQ{Topic: "  PARKING ", ReplyMessage: "Paid"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func TestCreateFAQ_SingleSentinel(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.CreateFAQ(ctx, knowledge.FAQ{Topic: knowledge.TopicFallback, ReplyMessage: "Sorry"}); err != nil {
		t.Fatalf("CreateFAQ: %v", err)
	}
	_, err := s.CreateFAQ(ctx, knowledge.FAQ{Topic: "::FALLBACK::", ReplyMessage: "Again"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}

	f, err := s.FAQByTopic(ctx, knowledge.TopicFallback)
	if err != nil {
		t.Fatalf("FAQByTopic: %v", err)
	}
	if f.ReplyMessage != "Sorry" {
		t.Errorf("fallback = %q", f.ReplyMessage)
	}
	if _, err := s.FAQByTopic(ctx, knowledge.TopicGreeting); !errors.Is(err, ErrNotFound) {
		t.Errorf("greeting err = %v, want ErrNotFound", err)
	}
}

func TestCreateFAQ_RejectsEmptyOptions(t *testing.T) {
	s := openTestStore(t)

	_, err := s.CreateFAQ(ctx, knowledge.FAQ{Topic: "Spa", ReplyMessage: "Choose", Reply: knowledge.OptionsReply{}})
	if !errors.Is(err, knowledge.ErrPayloadShape) {
		t.Errorf("err = %v, want ErrPayloadShape", err)
	}
}

func TestUpdateFAQ(t *testing.T) {
	s := openTestStore(t)

	f, err := s.CreateFAQ(ctx, knowledge.FAQ{Topic: "Breakfast", ReplyMessage: "7-10am"})
	if err != nil {
		t.Fatalf("CreateFAQ: %v", err)
	}
	f.ReplyMessage = "6:30-10am"
	if err := s.UpdateFAQ(ctx, f); err != nil {
		t.Fatalf("UpdateFAQ: %v", err)
	}
	got, err := s.GetFAQ(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFAQ: %v", err)
	}
	if got.ReplyMessage != "6:30-10am" {
		t.Errorf("reply = %q", got.ReplyMessage)
	}
	if err := s.UpdateFAQ(ctx, knowledge.FAQ{ID: "missing", Topic: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAliases(t *testing.T) {
	s := openTestStore(t)

	f, err := s.CreateFAQ(ctx, knowledge.FAQ{Topic: "Check-out time", ReplyMessage: "Noon"})
	if err != nil {
		t.Fatalf("CreateFAQ: %v", err)
	}
	a, err := s.AddAlias(ctx, f.ID, "When do I leave")
	if err != nil {
		t.Fatalf("AddAlias: %v", err)
	}
	if _, err := s.AddAlias(ctx, f.ID, "when do i LEAVE "); !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
	if _, err := s.AddAlias(ctx, "nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	time.Sleep(2 * time.Millisecond)
	if _, err := s.AddAlias(ctx, f.ID, "checkout"); err != nil {
		t.Fatalf("AddAlias: %v", err)
	}

	all, err := s.ListAliases(ctx)
	if err != nil {
		t.Fatalf("ListAliases: %v", err)
	}
	if len(all) != 2 || all[0].Alias != "checkout" {
		t.Errorf("aliases = %+v, want newest first", all)
	}

	faqID, err := s.DeleteAlias(ctx, a.ID)
	if err != nil {
		t.Fatalf("DeleteAlias: %v", err)
	}
	if faqID != f.ID {
		t.Errorf("owner = %q, want %q", faqID, f.ID)
	}
	if _, err := s.DeleteAlias(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteFAQ_CascadesAliasesAndVectors(t *testing.T) {
	s := openTestStore(t)

	f, err := s.CreateFAQ(ctx, knowledge.FAQ{Topic: "Pets", ReplyMessage: "Dogs welcome"})
	if err != nil {
		t.Fatalf("CreateFAQ: %v", err)
	}
	if _, err := s.AddAlias(ctx, f.ID, "can I bring my dog"); err != nil {
		t.Fatalf("AddAlias: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO faq_vectors (id, faq_id, kind, text, embedding, created_at)
		VALUES ('v1', ?, 'topic', 'pets', X'0000803F', '2025-01-01T00:00:00Z')`, f.ID); err != nil {
		t.Fatalf("inserting vector: %v", err)
	}

	if err := s.DeleteFAQ(ctx, f.ID); err != nil {
		t.Fatalf("DeleteFAQ: %v", err)
	}
	for _, table := range []string{"faq_aliases", "faq_vectors"} {
		var n int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Errorf("%s has %d rows after delete", table, n)
		}
	}
	if err := s.DeleteFAQ(ctx, f.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSnippets(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.AddSnippet(ctx, "   ", "manual"); err == nil {
		t.Error("expected error for empty snippet")
	}
	sn, err := s.AddSnippet(ctx, "The rooftop bar opens at 5 PM.", "manual")
	if err != nil {
		t.Fatalf("AddSnippet: %v", err)
	}
	list, err := s.ListSnippets(ctx)
	if err != nil {
		t.Fatalf("ListSnippets: %v", err)
	}
	if len(list) != 1 || list[0].Content != sn.Content {
		t.Errorf("snippets = %+v", list)
	}
	if err := s.DeleteSnippet(ctx, sn.ID); err != nil {
		t.Fatalf("DeleteSnippet: %v", err)
	}
	if err := s.DeleteSnippet(ctx, sn.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
