package notify

import "fmt"

type Stage string

const (
	StageAhead Stage = "ahead"
	StageNext  Stage = "next"
	StageReady Stage = "ready"
)

func (s Stage) EventType() string {
	return "notification." + string(s)
}

// ComposeMessage renders the subject and body for stage.
func ComposeMessage(stage Stage, restaurantName, customerName string) (string, string) {
	if customerName == "" {
		customerName = "there"
	}
	switch stage {
	case StageAhead:
		return fmt.Sprintf("Almost your turn at %s", restaurantName),
			fmt.Sprintf("Hi %s, there are %d groups ahead of you in the queue at %s. Please start making your way over.", customerName, AheadThreshold, restaurantName)
	case StageNext:
		return fmt.Sprintf("You are next at %s", restaurantName),
			fmt.Sprintf("Hi %s, you are next in line at %s. Please be ready at the entrance.", customerName, restaurantName)
	case StageReady:
		return fmt.Sprintf("Your table at %s is ready", restaurantName),
			fmt.Sprintf("Hi %s, your table at %s is ready. Please come to the host stand now.", customerName, restaurantName)
	}
	return restaurantName, ""
}
