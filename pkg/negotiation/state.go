package negotiation

// State of a negotiation session.
type State uint8

const (
	Idle State = iota
	Offering
	AwaitingAnswer
	Answering
	Connecting
	Connected
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Offering:
		return "offering"
	case AwaitingAnswer:
		return "awaiting-answer"
	case Answering:
		return "answering"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event moves a session from one state to another.
type Event uint8

const (
	EvStart Event = iota
	EvOfferSent
	EvRemoteOffer
	EvRemoteAnswer
	EvAnswerSent
	EvConnected
	EvTimeout
	EvError
	EvRetry
	EvClose
)

func (e Event) String() string {
	return [...]string{
		"start", "offer-sent", "remote-offer", "remote-answer", "answer-sent",
		"connected", "timeout", "error", "retry", "close",
	}[e]
}

// transitions lists every allowed move, anything else is a signaling mismatch.
// Offers are accepted in connecting, connected and failed to allow renegotiation
// and initiator retries.
var transitions = map[State]map[Event]State{
	Idle: {
		EvStart:       Offering,
		EvRemoteOffer: Answering,
		EvError:       Failed,
		EvClose:       Closed,
	},
	Offering: {
		EvOfferSent: AwaitingAnswer,
		EvError:     Failed,
		EvClose:     Closed,
	},
	AwaitingAnswer: {
		EvRemoteAnswer: Connecting,
		EvTimeout:      Failed,
		EvError:        Failed,
		EvClose:        Closed,
	},
	Answering: {
		EvAnswerSent: Connecting,
		EvError:      Failed,
		EvClose:      Closed,
	},
	Connecting: {
		EvConnected:   Connected,
		EvRemoteOffer: Answering,
		EvTimeout:     Failed,
		EvError:       Failed,
		EvClose:       Closed,
	},
	Connected: {
		EvRemoteOffer: Answering,
		EvError:       Failed,
		EvClose:       Closed,
	},
	Failed: {
		EvRetry:       Offering,
		EvRemoteOffer: Answering,
		EvError:       Failed,
		EvClose:       Closed,
	},
	Closed: {},
}

// Next returns the state after the event or false if the event is not allowed.
func Next(s State, e Event) (State, bool) {
	to, ok := transitions[s][e]
	return to, ok
}

// IsInitiator tells if the local side makes offers to the remote one.
// Both sides get the same answer independently: the smaller id offers.
func IsInitiator(local, remote string) bool { return local < remote }
