package commitment

import "testing"

func TestMoney(t *testing.T) {
	cases := []string{
		"We can pay $5,000 for the first milestone",
		"the budget is 12000 USD for this phase",
		"I'll wire 500 to your account",
		"we will refund €30.50",
	}
	for _, text := range cases {
		r := Detect(text)
		if !r.Found || !hasCategory(r, Money) {
			t.Errorf("money commitment not detected in %q: %+v", text, r)
		}
	}
}

func TestLegal(t *testing.T) {
	cases := []string{
		"I will sign the contract tomorrow",
		"this agreement is legally binding",
		"we agree to the terms and conditions",
		"happy to put an NDA in place",
	}
	for _, text := range cases {
		r := Detect(text)
		if !r.Found || !hasCategory(r, Legal) {
			t.Errorf("legal commitment not detected in %q: %+v", text, r)
		}
	}
}

func TestDeadline(t *testing.T) {
	cases := []string{
		"I'll deliver the report by Friday",
		"no later than next week works",
		"the deadline is March 3rd",
		"done by end of day",
		"expect it before 5pm",
	}
	for _, text := range cases {
		r := Detect(text)
		if !r.Found || !hasCategory(r, Deadline) {
			t.Errorf("deadline commitment not detected in %q: %+v", text, r)
		}
	}
}

func TestMultipleCategories(t *testing.T) {
	r := Detect("We agree to pay $5000 under the contract by Friday")
	if len(r.Categories) != 3 {
		t.Errorf("expected all three categories, got %v", r.Categories)
	}
	// Table order: money, legal, deadline.
	if r.Categories[0] != Money || r.Categories[2] != Deadline {
		t.Errorf("category order not table order: %v", r.Categories)
	}
}

func TestBenign(t *testing.T) {
	cases := []string{
		"Thanks, let me check with the team and get back to you.",
		"The meeting room is on the 3rd floor.",
		"Interesting idea, can you share more detail?",
	}
	for _, text := range cases {
		if r := Detect(text); r.Found {
			t.Errorf("false positive on %q: %+v", text, r)
		}
	}
}

func hasCategory(r Result, c Category) bool {
	for _, got := range r.Categories {
		if got == c {
			return true
		}
	}
	return false
}
