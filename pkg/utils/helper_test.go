package utils

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePage(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		p, s := ParsePage(c)
		return c.JSON(fiber.Map{"page": p, "size": s})
	})

	cases := []struct {
		query      string
		page, size int
	}{
		{"", 1, 10},
		{"?page=3&pageSize=20", 3, 20},
		{"?page=0&pageSize=500", 1, 50},
		{"?page=abc&pageSize=-1", 1, 10},
	}
	for _, tc := range cases {
		resp, err := app.Test(httptest.NewRequest("GET", "/"+tc.query, nil))
		require.NoError(t, err)
		var body struct{ Page, Size int }
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, tc.page, body.Page, tc.query)
		assert.Equal(t, tc.size, body.Size, tc.query)
	}
}

func TestPages(t *testing.T) {
	assert.Equal(t, 0, Pages(0, 10))
	assert.Equal(t, 1, Pages(10, 10))
	assert.Equal(t, 2, Pages(11, 10))
	assert.Equal(t, 0, Pages(5, 0))
	assert.Equal(t, 20, Offset(3, 10))
}
