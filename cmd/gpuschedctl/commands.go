package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newSubmitCmd() *cobra.Command {
	var name, gpuType string
	var gpuCount int

	cmd := &cobra.Command{
		Use:   "submit <command...>",
		Short: "Submit a command to run once enough matching GPUs are free",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := joinArgs(args)
			task, err := newAPIClient().submitTask(name, gpuType, gpuCount, command)
			if err != nil {
				return err
			}
			fmt.Printf("submitted task %d (%s x%d) status=%s\n", task.ID, task.GPUType, task.GPUCount, task.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "free-text label for the task")
	cmd.Flags().StringVar(&gpuType, "gpu-type", "", "GPU model name, must match a GPU the probe reports")
	cmd.Flags().IntVar(&gpuCount, "gpu-count", 1, "number of GPUs of gpu-type the task needs")
	cmd.MarkFlagRequired("gpu-type")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every submitted task",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := newAPIClient().listTasks()
			if err != nil {
				return err
			}
			for _, t := range tasks {
				fmt.Printf("%-5d %-10s %-20s %-8s x%-2d %s\n", t.ID, t.Status, t.Name, t.GPUType, t.GPUCount, t.Command)
			}
			return nil
		},
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show the full record for one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			task, err := newAPIClient().getTask(id)
			if err != nil {
				return err
			}
			printTask(task)
			return nil
		},
	}
}

func newLogsCmd() *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "logs <task-id>",
		Short: "Fetch the tail of a task's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			logs, err := newAPIClient().taskLogs(id, tail)
			if err != nil {
				return err
			}
			for _, line := range logs.Lines {
				fmt.Println(line)
			}
			if logs.Truncated {
				fmt.Println("(truncated)")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&tail, "tail", 0, "number of lines to return (0 = server default)")
	return cmd
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a queued or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			task, err := newAPIClient().cancelTask(id)
			if err != nil {
				return err
			}
			fmt.Printf("task %d cancelled (status=%s)\n", task.ID, task.Status)
			return nil
		},
	}
}

func newGPUsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gpus",
		Short: "Report every probed GPU with its current occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			gpus, err := newAPIClient().gpuStatus()
			if err != nil {
				return err
			}
			for _, g := range gpus {
				state := "free"
				if !g.IsFree {
					state = fmt.Sprintf("task %d", *g.AssignedTaskID)
				}
				fmt.Printf("[%d] %-24s %-40s %s\n", g.Index, g.ModelName, g.UUID, state)
			}
			return nil
		},
	}
}

func printTask(t *taskResponse) {
	fmt.Printf("id:            %d\n", t.ID)
	fmt.Printf("name:          %s\n", t.Name)
	fmt.Printf("status:        %s\n", t.Status)
	fmt.Printf("gpu_type:      %s\n", t.GPUType)
	fmt.Printf("gpu_count:     %d\n", t.GPUCount)
	fmt.Printf("assigned_gpus: %v\n", t.AssignedGPUs)
	fmt.Printf("command:       %s\n", t.Command)
	fmt.Printf("created_at:    %s\n", t.CreatedAt)
	if t.StartedAt != nil {
		fmt.Printf("started_at:    %s\n", *t.StartedAt)
	}
	if t.CompletedAt != nil {
		fmt.Printf("completed_at:  %s\n", *t.CompletedAt)
	}
	if t.ExitCode != nil {
		fmt.Printf("exit_code:     %d\n", *t.ExitCode)
	}
	if t.Error != "" {
		fmt.Printf("error:         %s\n", t.Error)
	}
	if t.LogPath != "" {
		fmt.Printf("log_path:      %s\n", t.LogPath)
	}
}

func parseTaskID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q: %w", raw, err)
	}
	return id, nil
}

func joinArgs(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	result := args[0]
	for _, a := range args[1:] {
		result += " " + a
	}
	return result
}
