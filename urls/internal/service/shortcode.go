package service

import (
	"crypto/rand"
	"regexp"
	"slices"
	"strings"
)

const (
	CodeLength = 6
	alphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// наибольшее кратное len(alphabet) байтовое значение, остальные отбрасываются
	unbiasedLimit = 256 - 256%len(alphabet)
)

var (
	customCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{4,32}$`)
	reservedCodes     = []string{"api", "health", "metrics"}
)

// GenerateCode возвращает случайный код из латинских букв и цифр.
func GenerateCode(length int) (string, error) {
	code := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(code) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= unbiasedLimit {
				continue
			}
			code = append(code, alphabet[int(b)%len(alphabet)])
			if len(code) == length {
				break
			}
		}
	}
	return string(code), nil
}

func validCustomCode(code string) bool {
	return customCodePattern.MatchString(code) && !slices.Contains(reservedCodes, strings.ToLower(code))
}
