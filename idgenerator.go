package eventsource

import "github.com/gofrs/uuid"

// idFunc is a global function that generates aggregate and event id's.
// It could be changed from the outside via the SetIDFunc function.
var idFunc = uuidV4

// SetIDFunc is used to change how id's are generated
// default is a random uuid
func SetIDFunc(f func() string) {
	idFunc = f
}

func uuidV4() string {
	id, err := uuid.NewV4()
	if err != nil {
		return ""
	}
	return id.String()
}
