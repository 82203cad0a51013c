package handlers

import (
	"errors"
	"time"

	"cascade/internal/config"
	"cascade/internal/models"
	"cascade/internal/services/auth"
	"cascade/internal/utils"
	"cascade/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

// AuthHandler serves operator authentication on the admin surface.
type AuthHandler struct {
	auth auth.Service
}

func NewAuthHandler(authSvc auth.Service) *AuthHandler {
	return &AuthHandler{auth: authSvc}
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var input struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if err := validate.Struct(&input); err != nil {
		return response.ValidationError(c, "email and password are required")
	}

	operator, accessToken, refreshToken, err := h.auth.Login(input.Email, input.Password, c.IP())
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			return response.Error(c, fiber.StatusUnauthorized, "invalid email or password")
		case errors.Is(err, auth.ErrOperatorInactive):
			return response.Error(c, fiber.StatusForbidden, "account suspended")
		}
		return response.ServerError(c, "authentication failed")
	}

	h.setAuthCookies(c, accessToken, refreshToken)

	return c.JSON(fiber.Map{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"operator": fiber.Map{
			"id":          operator.ID,
			"email":       operator.Email,
			"name":        operator.Name,
			"role":        operator.Role,
			"permissions": models.GetDefaultPermissions(operator.Role),
		},
	})
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	// Cookie first, then body, matching how the tokens were handed out.
	refreshToken := c.Cookies("refresh_token")
	if refreshToken == "" {
		var input struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := c.BodyParser(&input); err == nil {
			refreshToken = input.RefreshToken
		}
	}
	if refreshToken == "" {
		return response.Error(c, fiber.StatusUnauthorized, "refresh token not provided")
	}

	accessToken, newRefreshToken, err := h.auth.RefreshTokens(refreshToken)
	if err != nil {
		return response.Error(c, fiber.StatusUnauthorized, "invalid refresh token")
	}

	h.setAuthCookies(c, accessToken, newRefreshToken)

	return c.JSON(fiber.Map{
		"access_token":  accessToken,
		"refresh_token": newRefreshToken,
	})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	claims, err := utils.GetOperatorClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	if err := h.auth.Logout(claims.OperatorID); err != nil {
		return response.ServerError(c, "failed to logout")
	}

	h.clearAuthCookies(c)

	return response.Success(c, "logged out", nil)
}

func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	var input struct {
		OldPassword string `json:"old_password" validate:"required"`
		NewPassword string `json:"new_password" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if err := validate.Struct(&input); err != nil {
		return response.ValidationError(c, "old and new passwords are required")
	}

	claims, err := utils.GetOperatorClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	if err := h.auth.ChangePassword(claims.OperatorID, input.OldPassword, input.NewPassword); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			return response.Error(c, fiber.StatusUnauthorized, "invalid old password")
		case errors.Is(err, auth.ErrWeakPassword):
			return response.BadRequest(c, err.Error())
		}
		return response.ServerError(c, "failed to change password")
	}

	// The version bump stranded the caller's tokens too.
	h.clearAuthCookies(c)

	return response.Success(c, "password changed", nil)
}

func (h *AuthHandler) CreateOperator(c *fiber.Ctx) error {
	var input struct {
		Email    string `json:"email" validate:"required,email"`
		Name     string `json:"name" validate:"required"`
		Password string `json:"password" validate:"required"`
		Role     string `json:"role" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if err := validate.Struct(&input); err != nil {
		return response.ValidationError(c, err.Error())
	}

	operator, err := h.auth.CreateOperator(input.Email, input.Name, input.Password, input.Role)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnknownRole), errors.Is(err, auth.ErrWeakPassword):
			return response.BadRequest(c, err.Error())
		case errors.Is(err, auth.ErrEmailTaken):
			return response.Error(c, fiber.StatusConflict, err.Error())
		}
		return response.ServerError(c, "failed to create operator")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "operator created",
		"data": fiber.Map{
			"id":    operator.ID,
			"email": operator.Email,
			"name":  operator.Name,
			"role":  operator.Role,
		},
	})
}

func (h *AuthHandler) setAuthCookies(c *fiber.Ctx, accessToken, refreshToken string) {
	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    accessToken,
		HTTPOnly: true,
		Secure:   config.IsProduction(),
		Path:     "/",
		SameSite: "Strict",
		MaxAge:   15 * 60,
	})
	c.Cookie(&fiber.Cookie{
		Name:     "refresh_token",
		Value:    refreshToken,
		HTTPOnly: true,
		Secure:   config.IsProduction(),
		Path:     "/",
		SameSite: "Strict",
		MaxAge:   7 * 24 * 60 * 60,
	})
}

func (h *AuthHandler) clearAuthCookies(c *fiber.Ctx) {
	for _, name := range []string{"access_token", "refresh_token"} {
		c.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    "",
			Expires:  time.Now().Add(-time.Hour),
			HTTPOnly: true,
			Secure:   config.IsProduction(),
			Path:     "/",
		})
	}
}
