package ws

import (
	"testing"
)

func TestIsSubscribed(t *testing.T) {
	tests := []struct {
		name    string
		subs    []string
		channel string
		want    bool
	}{
		{"exact match", []string{"book:EUA"}, "book:EUA", true},
		{"no match", []string{"book:EUA"}, "book:CEA", false},
		{"prefix wildcard", []string{"book:*"}, "book:CEA", true},
		{"prefix wildcard misses other topic", []string{"book:*"}, "trades:EUA", false},
		{"global wildcard", []string{"*"}, "prices", true},
		{"empty set", nil, "book:EUA", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &client{subs: make(map[string]bool)}
			for _, s := range tc.subs {
				c.subs[s] = true
			}
			if got := c.isSubscribed(tc.channel); got != tc.want {
				t.Fatalf("isSubscribed(%q) = %v, want %v", tc.channel, got, tc.want)
			}
		})
	}
}

func TestHandleSubscription(t *testing.T) {
	c := &client{subs: map[string]bool{"*": true}}

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"book:EUA", "trades:EUA"}})
	if c.subs["*"] {
		t.Fatal("first explicit subscribe should drop the connect-time wildcard")
	}
	if !c.subs["book:EUA"] || !c.subs["trades:EUA"] {
		t.Fatalf("subs = %v", c.subs)
	}

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"trades:EUA"}})
	if c.subs["trades:EUA"] {
		t.Fatal("unsubscribe should remove the channel")
	}
	if !c.subs["book:EUA"] {
		t.Fatal("unsubscribe should leave other channels alone")
	}

	c.handleSubscription(subscribeMsg{Action: "noop", Channels: []string{"book:CEA"}})
	if c.subs["book:CEA"] {
		t.Fatal("unknown actions should change nothing")
	}
}
