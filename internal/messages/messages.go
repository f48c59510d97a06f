// Package messages holds the small set of generic, localized messages shown
// to end users. Internal failure detail never goes through here.
package messages

import (
	"golang.org/x/text/language"
)

type Key string

const (
	RequiredFields  Key = "required_fields"
	LoginFailed     Key = "login_failed"
	LoginSuccess    Key = "login_success"
	LogoutSuccess   Key = "logout_success"
	SystemError     Key = "system_error"
	SessionExpired  Key = "session_expired"
	AccountDisabled Key = "account_disabled"
	TooManyAttempts Key = "too_many_attempts"
	Forbidden       Key = "forbidden"
)

var supported = []language.Tag{
	language.Indonesian, // default
	language.English,
}

var matcher = language.NewMatcher(supported)

var catalog = map[language.Base]map[Key]string{
	base(language.Indonesian): {
		RequiredFields:  "Username dan password harus diisi",
		LoginFailed:     "Username atau password salah",
		LoginSuccess:    "Login berhasil",
		LogoutSuccess:   "Anda telah keluar",
		SystemError:     "Terjadi kesalahan sistem, silakan coba lagi",
		SessionExpired:  "Sesi Anda telah berakhir, silakan login kembali",
		AccountDisabled: "Akun Anda tidak aktif",
		TooManyAttempts: "Terlalu banyak percobaan login, coba lagi nanti",
		Forbidden:       "Anda tidak memiliki akses ke halaman ini",
	},
	base(language.English): {
		RequiredFields:  "Username and password are required",
		LoginFailed:     "Invalid username or password",
		LoginSuccess:    "Login successful",
		LogoutSuccess:   "You have been logged out",
		SystemError:     "A system error occurred, please try again",
		SessionExpired:  "Your session has expired, please log in again",
		AccountDisabled: "Your account is not active",
		TooManyAttempts: "Too many login attempts, please try again later",
		Forbidden:       "You do not have access to this page",
	},
}

func base(tag language.Tag) language.Base {
	b, _ := tag.Base()
	return b
}

// Get returns the message for key in the best match for locale. Unknown or
// unparseable locales fall back to Indonesian.
func Get(locale string, key Key) string {
	tag, _ := language.MatchStrings(matcher, locale)
	msgs, ok := catalog[base(tag)]
	if !ok {
		msgs = catalog[base(supported[0])]
	}
	if msg, ok := msgs[key]; ok {
		return msg
	}
	return catalog[base(supported[0])][key]
}
