package handler

import (
	"strconv"

	"github.com/avtotest/exam-backend/internal/model"
	"github.com/avtotest/exam-backend/internal/response"
	"github.com/gin-gonic/gin"
)

// HeaderLanguage is the explicit locale header sent by the mobile and web clients.
const HeaderLanguage = "X-Language"

// ResolveLocale picks the request locale: X-Language header, then the lang
// query parameter, then Accept-Language. It always returns a valid locale and
// records it for the response metadata.
func ResolveLocale(c *gin.Context) model.Locale {
	l := resolveLocale(c)
	c.Set(response.ContextKeyLocale, string(l))
	return l
}

func resolveLocale(c *gin.Context) model.Locale {
	if v := c.GetHeader(HeaderLanguage); v != "" {
		return model.ResolveLocale(v)
	}
	if v := c.Query("lang"); v != "" {
		return model.ResolveLocale(v)
	}
	if l, ok := model.ResolveAcceptLanguage(c.GetHeader("Accept-Language")); ok {
		return l
	}
	return model.DefaultLocale
}

// renderer combines the request locale with the ?all_locales flag.
func renderer(c *gin.Context) model.Renderer {
	all, _ := strconv.ParseBool(c.Query("all_locales"))
	return model.Renderer{Locale: ResolveLocale(c), All: all}
}
