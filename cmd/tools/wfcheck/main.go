package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"nvisy/internal/workflow"

	"gopkg.in/yaml.v3"
)

func main() {
	verbose := flag.Bool("v", false, "输出节点统计与执行顺序")
	flag.Parse()

	if flag.NArg() == 0 {
		log.Fatalf("用法: wfcheck [-v] <workflow.yaml|workflow.json> ...")
	}

	failed := 0
	for _, path := range flag.Args() {
		wf, err := loadWorkflow(path)
		if err != nil {
			fmt.Printf("%s: 读取失败: %v\n", path, err)
			failed++
			continue
		}

		if err := wf.Validate(); err != nil {
			fmt.Printf("%s: 校验失败: %v\n", path, err)
			failed++
			continue
		}

		fmt.Printf("%s: 校验通过 (%d 节点, %d 边)\n", path, wf.NodeCount(), wf.EdgeCount())
		if *verbose {
			printReport(wf)
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}

// loadWorkflow 读取 YAML 或 JSON 工作流定义
// YAML 先转成 JSON 中间形式，复用定义层的 json 标签
func loadWorkflow(path string) (*workflow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("解析 YAML 失败: %w", err)
		}
		if data, err = json.Marshal(raw); err != nil {
			return nil, fmt.Errorf("转换 YAML 失败: %w", err)
		}
	}

	var wf workflow.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("解析定义失败: %w", err)
	}
	return &wf, nil
}

// printReport 输出节点分类统计与拓扑执行顺序
func printReport(wf *workflow.Workflow) {
	counts := map[workflow.NodeKind]int{}
	for _, node := range wf.Nodes {
		counts[node.Kind]++
	}
	fmt.Printf("  输入 %d / 变换 %d / 路由 %d / 输出 %d\n",
		counts[workflow.NodeKindInput],
		counts[workflow.NodeKindTransform],
		counts[workflow.NodeKindSwitch],
		counts[workflow.NodeKindOutput],
	)

	order, err := wf.TopoOrder()
	if err != nil {
		return
	}
	fmt.Println("  执行顺序:")
	for i, id := range order {
		node, _ := wf.Node(id)
		fmt.Printf("    %2d. [%s] %s\n", i+1, node.Kind, id)
	}
}
