/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "clicktodial/cmd"

func main() {
	cmd.Execute()
}
