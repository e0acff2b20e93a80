package messaging

import (
	"fmt"
	"strings"
)

// MatchTopic сопоставляет routing key с шаблоном topic exchange:
// "*" - ровно одно слово, "#" - ноль или больше слов.
func MatchTopic(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || pattern[0] != key[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}

// ValidatePattern проверяет, что шаблон не пустой и не содержит пустых слов.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty routing pattern")
	}
	for _, word := range strings.Split(pattern, ".") {
		if word == "" {
			return fmt.Errorf("routing pattern %q has an empty segment", pattern)
		}
		if strings.ContainsAny(word, "*#") && len(word) > 1 {
			return fmt.Errorf("routing pattern %q mixes wildcards with text in %q", pattern, word)
		}
	}
	return nil
}
