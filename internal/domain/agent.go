package domain

// Agent represents a support-team member. Immutable from the client's side
// except through the registration and login calls.
type Agent struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	IsOnline bool   `json:"is_online"`
}

// AgentCreate is the registration payload.
type AgentCreate struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"required,max=100"`
	Role     string `json:"role"`
}

// AgentLogin is the login payload.
type AgentLogin struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}
