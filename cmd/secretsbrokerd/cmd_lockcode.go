package main

import (
	"encoding/base64"
	"fmt"
)

func cmdProvideLockCode() {
	code, err := promptPassword("Device lock code: ")
	if err != nil {
		fatal("reading lock code: %v", err)
	}

	body := map[string]string{"new_code_base64": base64.StdEncoding.EncodeToString(code)}
	resp, err := apiRequest("POST", "/secrets/lock/database/provide", body)
	if err != nil {
		fatal("request: %v", err)
	}
	if err := apiResult(resp, nil); err != nil {
		fatal("%v", err)
	}
	fmt.Println("Bookkeeping database and device lock unlocked.")
}

func cmdModifyLockCode() {
	oldCode, err := promptPassword("Current device lock code: ")
	if err != nil {
		fatal("reading lock code: %v", err)
	}
	newCode, err := promptPassword("New device lock code: ")
	if err != nil {
		fatal("reading lock code: %v", err)
	}
	confirm, err := promptPassword("Confirm new device lock code: ")
	if err != nil {
		fatal("reading confirmation: %v", err)
	}
	if string(newCode) != string(confirm) {
		fatal("lock codes do not match")
	}

	body := map[string]string{
		"old_code_base64": base64.StdEncoding.EncodeToString(oldCode),
		"new_code_base64": base64.StdEncoding.EncodeToString(newCode),
	}
	resp, err := apiRequest("POST", "/secrets/lock/database/modify", body)
	if err != nil {
		fatal("request: %v", err)
	}
	if err := apiResult(resp, nil); err != nil {
		fatal("%v", err)
	}
	fmt.Println("Device lock code changed; every device-lock collection and secret has been re-keyed.")
}

func cmdForgetLockCode() {
	resp, err := apiRequest("POST", "/secrets/lock/database/forget", nil)
	if err != nil {
		fatal("request: %v", err)
	}
	if err := apiResult(resp, nil); err != nil {
		fatal("%v", err)
	}
	fmt.Println("Device lock key forgotten; the bookkeeping database is locked again.")
}
