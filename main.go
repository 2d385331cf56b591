package main

import "github.com/ValentinKolb/dht/cmd"

func main() {
	cmd.Execute()
}
