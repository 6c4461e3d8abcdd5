package handler

import (
	"time"

	"github.com/KiriEmpathy/psylence/internal/user/domain"
)

type registerRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	Fullname  string `json:"fullname" validate:"required"`
	Username  string `json:"username" validate:"required"`
	Birthdate string `json:"birthdate" validate:"required,datetime=2006-01-02"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Fullname string `json:"fullname"`
	Role     string `json:"role"`
	ImgSrc   string `json:"imgSrc,omitempty"`
}

type userEnvelope struct {
	User userResponse `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func toUserResponse(u *domain.User, p *domain.Profile) userResponse {
	resp := userResponse{
		ID:    u.ID,
		Email: u.Email,
		Role:  string(domain.RoleUser),
	}
	if p != nil {
		resp.Username = p.Username
		resp.Fullname = p.Fullname
		resp.ImgSrc = p.ImgSrc
		if p.Role != "" {
			resp.Role = string(p.Role)
		}
	}
	return resp
}

func parseBirthdate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}
