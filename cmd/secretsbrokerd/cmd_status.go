package main

import "fmt"

func cmdStatus() {
	resp, err := apiRequest("GET", "/secrets/plugins", nil)
	if err != nil {
		fmt.Println("Broker is not reachable at", brokerAddr())
		return
	}

	var info struct {
		Storage          []pluginInfo `json:"storage"`
		Encryption       []pluginInfo `json:"encryption"`
		EncryptedStorage []pluginInfo `json:"encrypted_storage"`
		Authentication   []pluginInfo `json:"authentication"`
	}
	if err := apiResult(resp, &info); err != nil {
		fatal("%v", err)
	}

	fmt.Println("Broker is reachable at", brokerAddr())
	fmt.Printf("Storage plugins:           %d\n", len(info.Storage))
	fmt.Printf("Encryption plugins:        %d\n", len(info.Encryption))
	fmt.Printf("Encrypted-storage plugins: %d\n", len(info.EncryptedStorage))
	fmt.Printf("Authentication plugins:    %d\n", len(info.Authentication))
}

func cmdPlugins() {
	resp, err := apiRequest("GET", "/secrets/plugins", nil)
	if err != nil {
		fatal("broker is not reachable at %s", brokerAddr())
	}

	var info struct {
		Storage          []pluginInfo `json:"storage"`
		Encryption       []pluginInfo `json:"encryption"`
		EncryptedStorage []pluginInfo `json:"encrypted_storage"`
		Authentication   []pluginInfo `json:"authentication"`
	}
	if err := apiResult(resp, &info); err != nil {
		fatal("%v", err)
	}

	printPlugins("Storage", info.Storage)
	printPlugins("Encryption", info.Encryption)
	printPlugins("EncryptedStorage", info.EncryptedStorage)
	printPlugins("Authentication", info.Authentication)
}

type pluginInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func printPlugins(capability string, plugins []pluginInfo) {
	fmt.Printf("%s:\n", capability)
	if len(plugins) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, p := range plugins {
		fmt.Printf("  %-50s %s\n", p.Name, p.Version)
	}
}
