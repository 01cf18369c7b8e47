package conversation

import "fmt"

// DefaultGreeting opens every conversation whose user is unknown.
const DefaultGreeting = "ສະບາຍດີ! BCEL ຍິນດີໃຫ້ບໍລິການ. ທ່ານຕ້ອງການສອບຖາມຂໍ້ມູນຜະລິດຕະພັນ ຫຼື ບໍລິການດ້ານໃດແດ່? " +
	"(Hello! Welcome to BCEL. How can I assist you with our banking products and services today?)"

const personalGreetingFormat = "Sabaidee %s! Welcome to BCEL assistance. How can I help you today?"

// UserInfo is the profile of a signed-in user as known to the transport layer.
type UserInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Greeting returns the first turn of a new conversation, personalized when a user name is known.
func Greeting(user *UserInfo) Turn {
	if user != nil && user.Name != "" {
		return AssistantTurn(fmt.Sprintf(personalGreetingFormat, user.Name))
	}
	return AssistantTurn(DefaultGreeting)
}
