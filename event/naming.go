package event

// Direction distinguishes the server->client and client->server rings an
// event is attached to.
type Direction int

const (
	S2C Direction = iota
	C2S
)

func (d Direction) String() string {
	if d == S2C {
		return "s2c"
	}
	return "c2s"
}

// Kind distinguishes the "data available" and "space available" events on a
// direction.
type Kind int

const (
	Data Kind = iota
	Space
)

func (k Kind) String() string {
	if k == Data {
		return "data"
	}
	return "space"
}

// Name builds the deterministic event name from spec §6: "<channel>.s2c.data"
// etc.
func Name(channel string, dir Direction, kind Kind) string {
	return channel + "." + dir.String() + "." + kind.String()
}

// DisconnectName builds "<channel>.disconnect".
func DisconnectName(channel string) string {
	return channel + ".disconnect"
}

// Opener creates or opens a named Event. Names are deterministic per spec
// §6, so Create and Open agree on the same string for the same channel.
type Opener interface {
	Create(name string) (Event, error)
	Open(name string) (Event, error)
}

// Set bundles the five events one channel owns (spec §4.3).
type Set struct {
	S2CData    Event
	S2CSpace   Event
	C2SData    Event
	C2SSpace   Event
	Disconnect Event
}

// CreateSet creates all five named events for channel on opener.
func CreateSet(opener Opener, channel string) (Set, error) {
	var s Set
	var err error
	if s.S2CData, err = opener.Create(Name(channel, S2C, Data)); err != nil {
		return Set{}, err
	}
	if s.S2CSpace, err = opener.Create(Name(channel, S2C, Space)); err != nil {
		return Set{}, err
	}
	if s.C2SData, err = opener.Create(Name(channel, C2S, Data)); err != nil {
		return Set{}, err
	}
	if s.C2SSpace, err = opener.Create(Name(channel, C2S, Space)); err != nil {
		return Set{}, err
	}
	if s.Disconnect, err = opener.Create(DisconnectName(channel)); err != nil {
		return Set{}, err
	}
	return s, nil
}

// OpenSet opens all five named events for channel on opener.
func OpenSet(opener Opener, channel string) (Set, error) {
	var s Set
	var err error
	if s.S2CData, err = opener.Open(Name(channel, S2C, Data)); err != nil {
		return Set{}, err
	}
	if s.S2CSpace, err = opener.Open(Name(channel, S2C, Space)); err != nil {
		return Set{}, err
	}
	if s.C2SData, err = opener.Open(Name(channel, C2S, Data)); err != nil {
		return Set{}, err
	}
	if s.C2SSpace, err = opener.Open(Name(channel, C2S, Space)); err != nil {
		return Set{}, err
	}
	if s.Disconnect, err = opener.Open(DisconnectName(channel)); err != nil {
		return Set{}, err
	}
	return s, nil
}

// Close closes every event in the set, returning the first error (if any)
// after attempting all five.
func (s Set) Close() error {
	var first error
	for _, e := range []Event{s.S2CData, s.S2CSpace, s.C2SData, s.C2SSpace, s.Disconnect} {
		if e == nil {
			continue
		}
		if err := e.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
