package handler

import (
	"net/http"
	"net/url"
)

// flashCookieName は次の画面に1度だけ表示するメッセージを保持するCookie名。
const flashCookieName = "ssolink_flash"

// setFlash はフラッシュメッセージを設定する。
func setFlash(w http.ResponseWriter, secure bool, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    url.QueryEscape(message),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash はフラッシュメッセージを取り出し、Cookieを削除する。
func popFlash(w http.ResponseWriter, r *http.Request, secure bool) string {
	cookie, err := r.Cookie(flashCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	message, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return ""
	}
	return message
}
